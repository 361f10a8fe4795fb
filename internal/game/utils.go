// internal/game/utils.go
package game

import "github.com/google/uuid"

func newID() string {
	return uuid.NewString()
}

func indexOf(ids []string, id string) int {
	if id == "" {
		return -1
	}
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
