// Package adapter defines the translation backend capability and its failure
// classes, and provides the HTTP backends selected by model prefix.
package adapter

import (
	"context"
	"errors"
	"fmt"
)

//go:generate mockgen -source=adapter.go -destination=mocks/mock_translator.go -package=mocks

// Translator translates a batch of strings. On success the result has the
// same length and order as batch. Failures should be wrapped with Transient
// or Permanent; unclassified errors are treated as transient.
type Translator interface {
	Translate(ctx context.Context, batch []string, model, credential string) ([]string, error)
	Name() string
}

// Kind classifies a translation failure
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

var (
	// ErrBatchIndexMismatch means the backend returned the wrong number of segments
	ErrBatchIndexMismatch = errors.New("batch index mismatch")

	// ErrUnknownModel means no backend is registered for the model prefix
	ErrUnknownModel = errors.New("no translator registered for model")
)

// Failure is a classified translation error
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Transient marks err as eligible for retry
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: KindTransient, Err: err}
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: KindPermanent, Err: err}
}

// KindOf returns the failure class of err
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}

// IsPermanent reports whether err must not be retried
func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == KindPermanent
}

// CheckCount returns a transient ErrBatchIndexMismatch when got != want
func CheckCount(got, want int) error {
	if got == want {
		return nil
	}
	return Transient(fmt.Errorf("%w: expected %d translations, got %d", ErrBatchIndexMismatch, want, got))
}

type languagesKey struct{}

// Languages carries optional source and target language hints
type Languages struct {
	Source string
	Target string
}

// WithLanguages attaches language hints to ctx for the backends' prompts
func WithLanguages(ctx context.Context, langs Languages) context.Context {
	return context.WithValue(ctx, languagesKey{}, langs)
}

// LanguagesFrom returns the language hints stored in ctx, if any
func LanguagesFrom(ctx context.Context) Languages {
	langs, _ := ctx.Value(languagesKey{}).(Languages)
	return langs
}
