package app

import "errors"

var (
	// ErrAttachmentTooLarge indicates an upload above the configured limit.
	ErrAttachmentTooLarge = errors.New("attachment too large")
	// ErrAttachmentsDisabled indicates no object store is configured.
	ErrAttachmentsDisabled = errors.New("attachments disabled")
)
