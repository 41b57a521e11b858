// Package grammar classifies a selected piece of subtitle text as a sentence,
// phrase or word and produces the matching analysis.
package grammar

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

const (
	KindSentence Kind = "SENTENCE"
	KindPhrase   Kind = "PHRASE"
	KindWord     Kind = "WORD"
)

// ParseKind accepts the three kinds case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindSentence, KindPhrase, KindWord:
		return k, nil
	}
	return "", fmt.Errorf("unknown content kind %q", s)
}

// Context is the surrounding material the analysis is grounded on.
type Context struct {
	OriginText  string `json:"originText"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Previous    string `json:"previous,omitempty"`
	Next        string `json:"next,omitempty"`
}

type Request struct {
	Text     string
	Context  Context
	Identity string
}

// Analysis is implemented only by the three shapes below.
type Analysis interface {
	Kind() Kind
	isAnalysis()
}

type SentenceAnalysis struct {
	Translation string `json:"translation"`
	Grammar     struct {
		Structure string   `json:"structure"`
		Points    []string `json:"points"`
	} `json:"grammar"`
	Vocabulary []struct {
		Word        string `json:"word"`
		Explanation string `json:"explanation"`
		Usage       string `json:"usage"`
	} `json:"vocabulary"`
	Alternatives []string `json:"alternatives"`
}

type PhraseAnalysis struct {
	Translation  string   `json:"translation"`
	PhraseType   string   `json:"phraseType"`
	Usage        string   `json:"usage"`
	Examples     []string `json:"examples"`
	Alternatives []string `json:"alternatives"`
}

// UnmarshalJSON reads the phrase category from either "phraseType" or the
// model's "type" key.
func (p *PhraseAnalysis) UnmarshalJSON(data []byte) error {
	type plain PhraseAnalysis
	var aux struct {
		plain
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = PhraseAnalysis(aux.plain)
	if p.PhraseType == "" {
		p.PhraseType = aux.Type
	}
	return nil
}

type WordForms struct {
	Original       string `json:"original"`
	Past           string `json:"past,omitempty"`
	PastParticiple string `json:"pastParticiple,omitempty"`
	Present        string `json:"present,omitempty"`
}

type WordAnalysis struct {
	Phonetic     string    `json:"phonetic"`
	Forms        WordForms `json:"forms"`
	Meanings     []string  `json:"meanings"`
	Collocations []string  `json:"collocations"`
	Examples     []string  `json:"examples"`
	Synonyms     []string  `json:"synonyms"`
	Antonyms     []string  `json:"antonyms"`
	Etymology    string    `json:"etymology"`
}

func (SentenceAnalysis) Kind() Kind { return KindSentence }
func (PhraseAnalysis) Kind() Kind   { return KindPhrase }
func (WordAnalysis) Kind() Kind     { return KindWord }

func (SentenceAnalysis) isAnalysis() {}
func (PhraseAnalysis) isAnalysis()   {}
func (WordAnalysis) isAnalysis()     {}

// Result marshals as {"type": kind, "text": text, ...analysis fields}.
type Result struct {
	Text     string
	Analysis Analysis
}

func (r Result) Kind() Kind {
	if r.Analysis == nil {
		return ""
	}
	return r.Analysis.Kind()
}

func (r Result) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if r.Analysis != nil {
		raw, err := json.Marshal(r.Analysis)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	fields["type"] = r.Kind()
	fields["text"] = r.Text
	return json.Marshal(fields)
}
