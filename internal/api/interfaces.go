package api

// Interfaces for the services handlers call live here, in the consuming
// package. Only the methods handlers actually use are declared.

// ExportQueue reports export worker pool state for the stats endpoint.
type ExportQueue interface {
	GetQueueLength() int
}

// RoomStats reports live collaboration state for the stats endpoint.
type RoomStats interface {
	RoomCount() int
	SessionCount() int
}
