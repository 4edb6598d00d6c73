package domain

import (
	"strings"
)

// CollectionSeparator separates database and collection name in ids.
const CollectionSeparator = "~"

// CollectionID identifies a vector collection within the remote store.
type CollectionID struct {
	Database string
	Name     string
}

// NewCollectionID creates a collection identifier.
func NewCollectionID(database, name string) CollectionID {
	return CollectionID{Database: database, Name: name}
}

// ParseCollectionID parses "database~name". The second return value is
// false if the separator is missing.
func ParseCollectionID(s string) (CollectionID, bool) {
	db, name, ok := strings.Cut(s, CollectionSeparator)
	if !ok {
		return CollectionID{}, false
	}
	return CollectionID{Database: db, Name: name}, true
}

// String returns the externally visible id "database~name".
func (c CollectionID) String() string {
	return c.Database + CollectionSeparator + c.Name
}

// TableName returns the name of the backing table, "database_name".
func (c CollectionID) TableName() string {
	if c.Database == "" {
		return c.Name
	}
	return c.Database + "_" + c.Name
}
