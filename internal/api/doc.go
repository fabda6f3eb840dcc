// Package api provides a small inspection REST API over a manager.Manager:
// health, registered-table listing, and an on-demand save-all-changes
// flush, built on Gin with the standard response envelope and CORS
// support.
package api
