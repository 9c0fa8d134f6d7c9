// Package galleryerr defines the user-facing failure kinds of the gallery and
// the connection tester.
package galleryerr

import (
	"errors"
	"fmt"

	"golang.org/x/xerrors"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedConfig
	KindUnauthorized
	KindUnreachableOrInvalid
	KindInvalidFileType
	KindUploadFailed
	KindDeleteFailed
)

func (k Kind) String() string {
	switch k {
	case KindMalformedConfig:
		return "MALFORMED_CONFIG"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindUnreachableOrInvalid:
		return "UNREACHABLE_OR_INVALID"
	case KindInvalidFileType:
		return "INVALID_FILE_TYPE"
	case KindUploadFailed:
		return "UPLOAD_FAILED"
	case KindDeleteFailed:
		return "DELETE_FAILED"
	}
	return "UNKNOWN"
}

// StorageRulesSnippet is the rule set users are offered to copy when the
// bucket refuses access.  It opens the bucket to everyone and is only meant
// for a demo project.
const StorageRulesSnippet = `service firebase.storage {
  match /b/{bucket}/o {
    match /{allPaths=**} {
      allow read, write: if true; // For academic demo only
    }
  }
}`

type message struct {
	title       string
	remediation string
}

var messages = map[Kind]message{
	KindMalformedConfig: {
		title:       "The configuration could not be used.",
		remediation: "Paste the firebaseConfig object from Project Settings. projectId and storageBucket are required.",
	},
	KindUnauthorized: {
		title:       "Storage denied access.",
		remediation: "Open Firebase Console > Storage > Rules and allow this app to read and write. For a demo you can use the following rules:",
	},
	KindUnreachableOrInvalid: {
		title:       "Could not reach the storage bucket.",
		remediation: "Re-check the projectId and storageBucket fields you pasted.",
	},
	KindInvalidFileType: {
		title:       "Please choose an image file.",
		remediation: "Only files with an image/* content type can be uploaded.",
	},
	KindUploadFailed: {
		title:       "Upload failed.",
		remediation: "Try the upload again.",
	},
	KindDeleteFailed: {
		title:       "Delete failed.",
		remediation: "You may need to review the bucket's access rules.",
	},
	KindUnknown: {
		title: "Something went wrong.",
	},
}

// Error is a classified failure.  Title and Remediation are safe to show to
// the user; the wrapped cause is for logs.
type Error struct {
	Kind        Kind
	Title       string
	Remediation string

	// Snippet is copyable remediation text, set for KindUnauthorized.
	Snippet string

	inner error
	frame xerrors.Frame
}

// New classifies inner as kind, filling in the standard user-facing text.
func New(kind Kind, inner error) *Error {
	m, ok := messages[kind]
	if !ok {
		m = messages[KindUnknown]
	}
	e := &Error{
		Kind:        kind,
		Title:       m.title,
		Remediation: m.remediation,
		inner:       inner,
		frame:       xerrors.Caller(1),
	}
	if kind == KindUnauthorized {
		e.Snippet = StorageRulesSnippet
	}
	return e
}

func (e *Error) Error() string {
	if e.inner == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Title)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Title, e.inner)
}

func (e *Error) Format(f fmt.State, c rune) { // implements fmt.Formatter
	xerrors.FormatError(e, f, c)
}

func (e *Error) FormatError(p xerrors.Printer) error { // implements xerrors.Formatter
	p.Printf("%s: %s", e.Kind, e.Title)
	if p.Detail() {
		e.frame.Format(p)
	}
	return e.inner
}

func (e *Error) Unwrap() error {
	return e.inner
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.  Unclassified errors come back
// as KindUnknown so callers always have text to show.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return New(KindUnknown, err)
}
