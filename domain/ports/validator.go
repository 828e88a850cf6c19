package ports

import "github.com/frontrow-dev/bridge/domain/entities"

// DescriptionValidator validates machine description bodies before they are
// sent to the server.
type DescriptionValidator interface {
	// Validate checks the JSON encoded body against the description schema.
	Validate(body []byte) (*entities.ValidationResult, error)
}
