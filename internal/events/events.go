// Package events defines the feed events carried over SQS and their JSON
// envelope.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-feed-fanout/internal/validation"
)

// Type identifies an event kind on the wire.
type Type string

const (
	TypePostCreated    Type = "post.created"
	TypePostDeleted    Type = "post.deleted"
	TypeUserUnfollowed Type = "user.unfollowed"
	TypeUserDeleted    Type = "user.deleted"
)

// ErrMalformed is returned for messages that can never be processed, however
// often they are redelivered.
var ErrMalformed = errors.New("malformed event")

// Envelope is the JSON message body.
type Envelope struct {
	ID         string          `json:"id" validate:"id"`
	Type       Type            `json:"type" validate:"required"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
}

// Event is implemented only by the payload types in this package.
type Event interface {
	Type() Type
	sealed()
}

// PostCreated asks for a post to be fanned out to its audience. Reconcile is
// set on events re-published for recipients whose first write failed.
type PostCreated struct {
	Post      validation.Post `json:"post"`
	Audience  []string        `json:"audience" validate:"required,min=1,dive,id"`
	Reconcile bool            `json:"reconcile,omitempty"`
}

// PostDeleted removes a post from every feed.
type PostDeleted struct {
	PostID string `json:"post_id" validate:"id"`
}

// UserUnfollowed removes AuthorID's posts from UserID's feed.
type UserUnfollowed struct {
	UserID   string `json:"user_id" validate:"id"`
	AuthorID string `json:"author_id" validate:"id"`
}

// UserDeleted clears UserID's own feed and removes UserID's posts from the
// feeds of Followers.
type UserDeleted struct {
	UserID    string   `json:"user_id" validate:"id"`
	Followers []string `json:"followers,omitempty" validate:"dive,id"`
}

func (PostCreated) Type() Type    { return TypePostCreated }
func (PostDeleted) Type() Type    { return TypePostDeleted }
func (UserUnfollowed) Type() Type { return TypeUserUnfollowed }
func (UserDeleted) Type() Type    { return TypeUserDeleted }

func (PostCreated) sealed()    {}
func (PostDeleted) sealed()    {}
func (UserUnfollowed) sealed() {}
func (UserDeleted) sealed()    {}

// Decode parses and validates a message body. Every failure wraps ErrMalformed.
func Decode(body []byte, v *validatorv10.Validate) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := v.Struct(env); err != nil {
		return env, nil, fmt.Errorf("%w: envelope: %w", ErrMalformed, err)
	}

	var ev Event
	switch env.Type {
	case TypePostCreated:
		ev = &PostCreated{}
	case TypePostDeleted:
		ev = &PostDeleted{}
	case TypeUserUnfollowed:
		ev = &UserUnfollowed{}
	case TypeUserDeleted:
		ev = &UserDeleted{}
	default:
		return env, nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return env, nil, fmt.Errorf("%w: %s payload: %w", ErrMalformed, env.Type, err)
	}
	if err := v.Struct(ev); err != nil {
		return env, nil, fmt.Errorf("%w: %s payload: %w", ErrMalformed, env.Type, err)
	}
	return env, deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *PostCreated:
		return *e
	case *PostDeleted:
		return *e
	case *UserUnfollowed:
		return *e
	case *UserDeleted:
		return *e
	}
	return ev
}

// NewEnvelope wraps ev with a fresh ID.
func NewEnvelope(ev Event, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", ev.Type(), err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       ev.Type(),
		OccurredAt: now.UTC(),
		Payload:    payload,
	}, nil
}

// Attributes returns the SQS message attributes for env.
func (e Envelope) Attributes() map[string]string {
	return map[string]string{
		"event_id":   e.ID,
		"event_type": string(e.Type),
	}
}
