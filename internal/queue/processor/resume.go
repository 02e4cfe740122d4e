package processor

import (
	"context"
	"encoding/json"

	"github.com/talentqueue/jobqueue/internal/queue/model"
)

// ResumeParser is the narrow interface the actual resume-parsing body
// sits behind. Parsing/extraction logic is out of scope for this
// subsystem (spec Non-goals) — this processor only owns the queue
// contract: decode the payload, call Parse, translate the result into a
// ProcessorOutcome the Failure Router can act on.
type ResumeParser interface {
	Parse(ctx context.Context, tenantID, filePath, fileName, fileType string) (fields map[string]interface{}, err error)
}

// ResumeProcessingPayload is the PayloadBlob shape for
// JobTypeResumeProcessing, matching the request fields acurio's
// async resume producer carries (TenantID/FilePath/FileName/FileType).
type ResumeProcessingPayload struct {
	TenantID string `json:"tenant_id"`
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

// ResumeProcessingProcessor is the JobProcessor registered for
// model.JobTypeResumeProcessing.
type ResumeProcessingProcessor struct {
	parser ResumeParser
}

func NewResumeProcessingProcessor(parser ResumeParser) *ResumeProcessingProcessor {
	return &ResumeProcessingProcessor{parser: parser}
}

func (p *ResumeProcessingProcessor) JobType() model.JobType {
	return model.JobTypeResumeProcessing
}

func (p *ResumeProcessingProcessor) Process(ctx *Context, job *model.Job) model.ProcessorOutcome {
	if ctx.Cancelled() {
		return model.Failure(model.ReasonCancelled, "cancelled before parsing started", false)
	}

	payload, err := decodeResumePayload(job.PayloadBlob)
	if err != nil {
		return model.Failure("invalid_payload", err.Error(), false)
	}

	fields, err := p.parser.Parse(ctx, payload.TenantID, payload.FilePath, payload.FileName, payload.FileType)
	if err != nil {
		return model.Failure("parse_failed", err.Error(), true)
	}

	if ctx.Cancelled() {
		return model.Failure(model.ReasonCancelled, "cancelled after parsing completed", false)
	}

	return model.Success(model.JSONMap{"extracted_fields": fields})
}

func decodeResumePayload(blob []byte) (ResumeProcessingPayload, error) {
	var p ResumeProcessingPayload
	if err := json.Unmarshal(blob, &p); err != nil {
		return ResumeProcessingPayload{}, err
	}
	return p, nil
}
