package knowledge

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lifelensai/lifelens/internal/vectorindex"
)

// SourceTag marks knowledge base entries loaded from the dataset.
const SourceTag = "therapist_dataset"

const idPrefix = "therapist_"

// datasetSchema accepts any array of objects. Items missing a question or an
// answer are valid and skipped on load.
const datasetSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "question": {"type": "string"},
      "answer": {"type": "string"}
    }
  }
}`

// Item is one dataset record.
type Item struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Dataset is a validated list of entries ready for indexing, plus how many
// records were skipped for being incomplete.
type Dataset struct {
	Entries []vectorindex.Entry
	Skipped int
}

// Validate checks raw against the dataset schema.
func Validate(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(datasetSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("dataset is not valid json: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("dataset schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Parse validates raw and converts complete items into index entries. Ids use
// the item's position in the file so they stay stable across imports.
func Parse(raw []byte) (Dataset, error) {
	if err := Validate(raw); err != nil {
		return Dataset{}, err
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}

	ds := Dataset{Entries: make([]vectorindex.Entry, 0, len(items))}
	for idx, item := range items {
		if item.Question == "" || item.Answer == "" {
			ds.Skipped++
			continue
		}
		ds.Entries = append(ds.Entries, vectorindex.Entry{
			ID:       idPrefix + strconv.Itoa(idx),
			Content:  "Q: " + item.Question + "\nA: " + item.Answer,
			Metadata: map[string]string{vectorindex.MetaSource: SourceTag},
		})
	}
	return ds, nil
}

// Read parses a dataset from r.
func Read(r io.Reader) (Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset: %w", err)
	}
	return Parse(raw)
}

// LoadFile parses the dataset at path.
func LoadFile(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Read(f)
}
