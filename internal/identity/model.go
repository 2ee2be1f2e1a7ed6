package identity

import "time"

// User maps an external principal (the token subject issued by the game's
// login service) to the internal numeric id the economy keys everything by.
type User struct {
	ID         int64
	ExternalID string
	CreatedAt  time.Time
}
