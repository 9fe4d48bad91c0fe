package document

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaSource string

var schema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaSource))
	if err != nil {
		panic(fmt.Sprintf("document schema: %v", err))
	}
	return s
}()

// validateSchema checks raw document bytes against the embedded project
// schema before anything is decoded into graph state.
func validateSchema(raw []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validating document: %w", err)
	}
	if res.Valid() {
		return nil
	}
	errs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		errs = append(errs, e.String())
	}
	return fmt.Errorf("document failed schema validation:\n- %s", strings.Join(errs, "\n- "))
}
