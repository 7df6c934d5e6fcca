package jobs

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind names a job handler.
type Kind string

const (
	KindNotifyFollowers Kind = "notify-followers"
	KindModerateContent Kind = "moderate-content"
	KindResizeImage     Kind = "resize-image"
	KindClassifyImage   Kind = "classify-image"
)

// Valid reports whether k is one of the known job kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNotifyFollowers, KindModerateContent, KindResizeImage, KindClassifyImage:
		return true
	}
	return false
}

// ErrInvalidPayload is returned when a job's arguments cannot be decoded
// into the payload its kind expects.
var ErrInvalidPayload = errors.New("invalid job payload")

// PostArgs references a post by identifier only.
type PostArgs struct {
	PostID int64 `json:"post_id"`
}

// NotifyArgs carries what follower notification needs besides the post ID.
type NotifyArgs struct {
	PostID   int64  `json:"post_id"`
	AuthorID int64  `json:"author_id"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

// Payload is the closed set of job argument types. Each is a flat struct of
// primitives so a job can be serialized, persisted and retried without
// holding references to live objects.
type Payload interface {
	PostArgs | NotifyArgs
}

// Job is a unit of deferred work.
type Job struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Args       json.RawMessage `json:"args"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// New builds a job of the given kind with a fresh ULID.
func New[P Payload](kind Kind, args P) (Job, error) {
	if !kind.Valid() {
		return Job{}, fmt.Errorf("unknown job kind %q", kind)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s args: %w", kind, err)
	}
	return Job{
		ID:         ulid.MustNew(ulid.Now(), rand.Reader).String(),
		Kind:       kind,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the job's arguments into P.
func Decode[P Payload](job Job) (P, error) {
	var args P
	if len(job.Args) == 0 {
		return args, fmt.Errorf("%w: %s job %s has no args", ErrInvalidPayload, job.Kind, job.ID)
	}
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return args, fmt.Errorf("%w: %s job %s: %v", ErrInvalidPayload, job.Kind, job.ID, err)
	}
	return args, nil
}

// DecodePost decodes PostArgs and rejects non-positive post IDs.
func DecodePost(job Job) (PostArgs, error) {
	args, err := Decode[PostArgs](job)
	if err != nil {
		return args, err
	}
	if args.PostID <= 0 {
		return args, fmt.Errorf("%w: %s job %s has post_id %d", ErrInvalidPayload, job.Kind, job.ID, args.PostID)
	}
	return args, nil
}

// Marshal encodes a job as a queue envelope.
func Marshal(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// Unmarshal decodes a queue envelope.
func Unmarshal(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !job.Kind.Valid() {
		return job, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, job.Kind)
	}
	return job, nil
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker pool drops the job instead of
// requeueing it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, ErrInvalidPayload)
}
