package deps

import (
	"fmt"

	"quacwatch/internal/pipeline"
)

// CheckNextflow reports the Nextflow executable the runner will launch and
// where it was resolved from.
func CheckNextflow(configured string) Status {
	binary, source := pipeline.Resolve(configured)
	result := Status{
		Name:        "Nextflow",
		Command:     binary,
		Description: fmt.Sprintf("Required to run the workflow (resolved from %s)", source),
	}

	path, err := locate(binary)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	result.Command = path
	result.Path = path
	result.Available = true
	return result
}
