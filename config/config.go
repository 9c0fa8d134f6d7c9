// Package config holds the connection configuration for a gallery bucket and
// the local slot it is persisted in.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyConfiguration   = errors.New("configuration text is empty")
	ErrMissingProjectID     = errors.New("projectId must not be empty")
	ErrMissingStorageBucket = errors.New("storageBucket must not be empty")
)

// Configuration is the web configuration of a Firebase project, as shown in
// the Firebase console.  All fields are opaque to this program except
// ProjectID and StorageBucket.
type Configuration struct {
	APIKey            string `json:"apiKey" yaml:"apiKey"`
	AuthDomain        string `json:"authDomain" yaml:"authDomain"`
	ProjectID         string `json:"projectId" yaml:"projectId"`
	StorageBucket     string `json:"storageBucket" yaml:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId" yaml:"messagingSenderId"`
	AppID             string `json:"appId" yaml:"appId"`
}

// IsUsable reports whether c names both a project and a bucket.  A nil
// configuration is not usable.
func (c *Configuration) IsUsable() bool {
	return c.Validate() == nil
}

// Validate returns the first missing required field of c, if any.
func (c *Configuration) Validate() error {
	if c == nil {
		return ErrEmptyConfiguration
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		return ErrMissingProjectID
	}
	if strings.TrimSpace(c.StorageBucket) == "" {
		return ErrMissingStorageBucket
	}
	return nil
}

// DisplayLabel is the label the research page shows for c.
func (c *Configuration) DisplayLabel() string {
	if !c.IsUsable() {
		return "not linked"
	}
	return c.ProjectID
}

var (
	// Matches `const firebaseConfig =` (or let/var) ahead of the object.
	assignmentPrefix = regexp.MustCompile(`^\s*(?:(?:const|let|var)\s+)?[A-Za-z_$][\w$]*\s*=\s*`)
	trailingComma    = regexp.MustCompile(`,(\s*})`)
)

// Parse reads a configuration pasted by the user.  It accepts a JSON object,
// or the JavaScript snippet the Firebase console offers for copying, which
// has unquoted keys, a trailing comma and an assignment around the object.
//
// Parse does not check usability; callers gate on IsUsable.
func Parse(text string) (*Configuration, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyConfiguration
	}

	cfg := &Configuration{}
	jsonErr := json.Unmarshal([]byte(text), cfg)
	if jsonErr == nil {
		return cfg, nil
	}

	literal := assignmentPrefix.ReplaceAllString(text, "")
	literal = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(literal), ";"))
	if !strings.HasPrefix(literal, "{") || !strings.HasSuffix(literal, "}") {
		return nil, fmt.Errorf("while parsing configuration as JSON: %w", jsonErr)
	}
	literal = trailingComma.ReplaceAllString(literal, "$1")

	cfg = &Configuration{}
	if err := yaml.Unmarshal([]byte(literal), cfg); err != nil {
		return nil, fmt.Errorf("while parsing configuration as object literal: %w", err)
	}
	return cfg, nil
}

// Marshal serializes c in the same JSON form Parse accepts.
func (c *Configuration) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("while marshaling configuration: %w", err)
	}
	return data, nil
}
