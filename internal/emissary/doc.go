// Package emissary defines the core types and collaborator interfaces shared by
// the store, scraper, model service, chat simulator, and API packages.
package emissary
