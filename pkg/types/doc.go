// Package types defines the entity model, pending-operation and trash
// records, storage contracts, and standard errors shared by the Leafvault
// sync engine. All other packages depend on types; types depends on nothing
// inside the module.
package types
