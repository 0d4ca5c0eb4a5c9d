// Package crawler defines the data model, errors, and collaborator contracts
// shared by the quote crawl pipeline: tasks produced by the planner, records
// produced by the page parser, and the fetcher, parser, and sink interfaces the
// orchestrator drives.
package crawler
