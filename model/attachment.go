package model

// AttachmentStatus tracks an attachment through the upload pipeline.
type AttachmentStatus string

const (
	AttachmentPending    AttachmentStatus = "pending"
	AttachmentUploading  AttachmentStatus = "uploading"
	AttachmentRegistered AttachmentStatus = "registered"
	AttachmentFailed     AttachmentStatus = "failed"
)

// Attachment is a local file resolved into a server-visible source.
// Only a Registered attachment may be listed in an outgoing message.
type Attachment struct {
	Source   string
	Name     string
	MimeType string
	Status   AttachmentStatus
}

// Registered reports whether the attachment completed every upload stage.
func (a Attachment) Registered() bool {
	return a.Status == AttachmentRegistered
}
