// Package backend forwards requests to route locations. Each distinct
// location gets one Backend holding its reverse proxy together with health,
// connection and response time state. A Pool creates backends on first use.
package backend
