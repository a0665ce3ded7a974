package dialogue

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// Script is a dialogue stored on disk:
//
//	conversation_id: tavern-intro
//	turns:
//	  - avatar_id: sage
//	    text: Welcome, traveller.
//	  - avatar_id: bard
//	    text: Care for a song?
//
// Sequence indices may be omitted, in which case turns are numbered in file
// order.
type Script struct {
	ConversationID string                      `yaml:"conversation_id" json:"conversation_id"`
	Turns          []types.DialogueTurnRequest `yaml:"turns" json:"turns"`
}

// LoadScript reads a script from path.
func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dialogue: open script: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}

// ParseScript decodes a YAML script from r and validates it.
func ParseScript(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("dialogue: parse script: %w", err)
	}
	s.Number()
	if err := Validate(s.Turns); err != nil {
		return nil, err
	}
	for i, t := range s.Turns {
		if t.AvatarID == "" {
			return nil, fmt.Errorf("dialogue: turns[%d].avatar_id is required", i)
		}
	}
	return &s, nil
}

// Number assigns sequence indices in list order when none were given, that
// is when every turn carries index 0.
func (s *Script) Number() {
	if len(s.Turns) < 2 {
		return
	}
	for _, t := range s.Turns {
		if t.SequenceIndex != 0 {
			return
		}
	}
	for i := range s.Turns {
		s.Turns[i].SequenceIndex = i
	}
}
