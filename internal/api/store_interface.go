package api

import "github.com/dommolloy/seeus/internal/services"

// Store is the full persistence surface the HTTP layer wires through the
// services. Both the in-memory store and the sqlite store satisfy it.
type Store interface {
	services.RelationshipStore
	services.SessionStore
	services.InviteStore
	services.ReportStore
	services.BugStore
	services.GrowthStore

	// GetAnswersForRelationship returns every stored answer for the
	// relationship, newest first. Used by the CSV export.
	GetAnswersForRelationship(relationshipID string) ([]*services.Answer, error)
}
