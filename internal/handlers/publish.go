package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
)

// TagList accepts tags either as a JSON array or as a free-text string of "#tag" tokens
type TagList []string

func (t *TagList) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*t = nil
	case string:
		*t = common.ParseTags(v)
	case []interface{}:
		tags := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("tags must be strings, got %T", item)
			}
			tags = append(tags, s)
		}
		*t = common.NormalizeTags(tags)
	default:
		return fmt.Errorf("tags must be a string or an array of strings")
	}
	return nil
}

// PublishContent is the text body of a publish payload
type PublishContent struct {
	Title  string `json:"title" validate:"required,max=100"`
	Script string `json:"script" validate:"max=5000"`
}

// PublishPayload is the inbound publish request shared by the HTTP and MCP surfaces
type PublishPayload struct {
	Name         string         `json:"name" validate:"omitempty,excludesall=/\\"`
	Tags         TagList        `json:"tags" validate:"max=30,dive,max=50"`
	Content      PublishContent `json:"content"`
	ContentExtra string         `json:"content_extra" validate:"max=2000"`
	VideoURL     string         `json:"video_url" validate:"omitempty,url"`
	PublishTime  string         `json:"publish_time" validate:"omitempty,publish_time"`
}

// PublishResponse acknowledges an accepted request; the publish itself happens later
type PublishResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TaskID        string `json:"task_id"`
	Position      int    `json:"position"`
	QueueDepth    int    `json:"queue_depth"`
	ScheduledTime string `json:"scheduled_time"`
}

// ValidationError is returned by Submit when the payload is rejected
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid publish request: " + strings.Join(e.Problems, "; ")
}

// PublishIntake validates payloads and turns them into queued PublishRequests
type PublishIntake struct {
	queue          interfaces.PublishQueue
	validate       *validator.Validate
	location       *time.Location
	defaultAccount string
	logger         arbor.ILogger
}

// NewPublishIntake creates the intake for queue. Publish times are interpreted in loc.
func NewPublishIntake(queue interfaces.PublishQueue, loc *time.Location, defaultAccount string, logger arbor.ILogger) *PublishIntake {
	if loc == nil {
		loc = time.Local
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("publish_time", func(fl validator.FieldLevel) bool {
		_, err := common.ParsePublishTime(fl.Field().String(), loc)
		return err == nil
	})

	return &PublishIntake{
		queue:          queue,
		validate:       validate,
		location:       loc,
		defaultAccount: defaultAccount,
		logger:         logger,
	}
}

// Submit validates payload and enqueues it. It never waits for the publish attempt.
func (i *PublishIntake) Submit(ctx context.Context, payload *PublishPayload) (*PublishResponse, error) {
	if err := i.validate.Struct(payload); err != nil {
		return nil, toValidationError(err)
	}

	publishAt, err := common.ParsePublishTime(payload.PublishTime, i.location)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	account := strings.TrimSpace(payload.Name)
	if account == "" {
		account = i.defaultAccount
	}

	req := &models.PublishRequest{
		ID:      common.NewTaskID(),
		Account: account,
		Content: models.Content{
			Title:  strings.TrimSpace(payload.Content.Title),
			Script: payload.Content.Script,
		},
		Extra:     payload.ContentExtra,
		Tags:      []string(payload.Tags),
		VideoURL:  strings.TrimSpace(payload.VideoURL),
		PublishAt: publishAt,
		CreatedAt: time.Now(),
	}

	result, err := i.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}

	response := &PublishResponse{
		Success:    true,
		Message:    "publish request queued",
		TaskID:     result.TaskID,
		Position:   result.Position,
		QueueDepth: result.QueueDepth,
	}
	if req.HasPublishTime() {
		response.ScheduledTime = common.FormatPublishTime(req.PublishAt)
	}
	return response, nil
}

func toValidationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return &ValidationError{Problems: []string{err.Error()}}
	}

	problems := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		field := strings.TrimPrefix(fe.Namespace(), "PublishPayload.")
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("%s is required", field))
		case "publish_time":
			problems = append(problems, fmt.Sprintf("%s must be in format \"YYYY-MM-DD HH:MM\"", field))
		case "url":
			problems = append(problems, fmt.Sprintf("%s must be a valid URL", field))
		case "max":
			problems = append(problems, fmt.Sprintf("%s exceeds maximum length %s", field, fe.Param()))
		default:
			problems = append(problems, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return &ValidationError{Problems: problems}
}

// PublishHandler serves POST /publish
type PublishHandler struct {
	intake *PublishIntake
	logger arbor.ILogger
}

func NewPublishHandler(intake *PublishIntake, logger arbor.ILogger) *PublishHandler {
	return &PublishHandler{intake: intake, logger: logger}
}

// PublishContentHandler accepts a publish request and returns 202 once it is queued
func (h *PublishHandler) PublishContentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var payload PublishPayload
	if err := DecodeJSON(r, &payload); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := h.intake.Submit(r.Context(), &payload)
	if err != nil {
		var validationErr *ValidationError
		switch {
		case errors.As(err, &validationErr):
			WriteError(w, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, models.ErrQueueStopped):
			WriteError(w, http.StatusServiceUnavailable, "publish queue is not accepting requests")
		default:
			h.logger.Error().Err(err).Msg("Failed to queue publish request")
			WriteError(w, http.StatusInternalServerError, "failed to queue publish request")
		}
		return
	}

	h.logger.Info().
		Str("task_id", response.TaskID).
		Int("queue_depth", response.QueueDepth).
		Msg("Publish request accepted")

	WriteJSON(w, http.StatusAccepted, response)
}
