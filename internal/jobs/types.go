package jobs

type JobType string

const (
	// JobSendEmail delivers a rendered notifications.Message.
	JobSendEmail JobType = "send_email"
)

// check to see if the job type is a known constant

func (t JobType) IsValid() bool {
	switch t {
	case JobSendEmail:
		return true
	default:
		return false
	}
}
