package provider

import "context"

// Disabled is the Provider used when no credentials are configured. Every
// call fails with ErrDisabled.
type Disabled struct{}

func (Disabled) MintUploadTarget(context.Context, UploadConstraints, UploadMetadata) (UploadTarget, error) {
	return UploadTarget{}, ErrDisabled
}

func (Disabled) QueryJobState(context.Context, string) (JobState, error) {
	return JobState{}, ErrDisabled
}

func (Disabled) HealthCheck(context.Context) error {
	return ErrDisabled
}
