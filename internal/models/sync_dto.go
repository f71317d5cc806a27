package models

import "encoding/xml"

// Legacy XML sync protocol elements. Handlers translate SyncResult values
// into these wire shapes; the core never blocks a connection on contention.

// SyncResponse is the outer envelope of every legacy sync response
type SyncResponse struct {
	XMLName   xml.Name    `xml:"response"`
	Version   int         `xml:"version,attr"`
	Timestamp int64       `xml:"timestamp,attr,omitempty"`
	Body      interface{} `xml:",any"`
}

// LockedElement tells the client to retry after Wait milliseconds
type LockedElement struct {
	XMLName xml.Name `xml:"locked"`
	Wait    int      `xml:"wait,attr"`
}

// QueuedElement reports that the operation is queued for background
// processing; the client should poll again after Wait milliseconds
type QueuedElement struct {
	XMLName xml.Name `xml:"queued"`
	Wait    int      `xml:"wait,attr"`
}

// UploadedElement reports a completed upload
type UploadedElement struct {
	XMLName   xml.Name `xml:"uploaded"`
	Timestamp int64    `xml:"timestamp,attr,omitempty"`
}

// ErrorElement is a translated failure on the legacy wire
type ErrorElement struct {
	XMLName xml.Name `xml:"error"`
	Code    string   `xml:"code,attr"`
	Message string   `xml:",chardata"`
}

// SessionElement carries a freshly minted session ID after login
type SessionElement struct {
	XMLName   xml.Name `xml:"sessionID"`
	SessionID string   `xml:",chardata"`
}

// UpdatedElement is the whole-library download payload
type UpdatedElement struct {
	XMLName xml.Name       `xml:"updated"`
	Version int64          `xml:"version,attr"`
	Objects []SyncObjectEl `xml:"object"`
}

// SyncObjectEl is one changed object in a download payload
type SyncObjectEl struct {
	Type    string `xml:"type,attr"`
	Key     string `xml:"key,attr"`
	Version int64  `xml:"version,attr"`
	Deleted bool   `xml:"deleted,attr,omitempty"`
	Data    string `xml:",cdata"`
}

// SyncResultKind tags the outcome of a coordinated sync operation
type SyncResultKind int

const (
	SyncReady SyncResultKind = iota
	SyncLocked
	SyncQueued
	SyncUploaded
)

// SyncResult is the tagged outcome of a download or upload attempt. Contention
// is returned as state, never resolved by blocking the connection.
type SyncResult struct {
	Kind      SyncResultKind
	Payload   *UpdatedElement // set when Kind == SyncReady
	Wait      int             // milliseconds, when Kind is SyncLocked or SyncQueued
	Timestamp int64           // unix seconds, when Kind == SyncUploaded
}

// Ready wraps a computed download payload
func Ready(payload *UpdatedElement) SyncResult {
	return SyncResult{Kind: SyncReady, Payload: payload}
}

// Locked reports contention with a wait hint in milliseconds
func Locked(wait int) SyncResult {
	return SyncResult{Kind: SyncLocked, Wait: wait}
}

// Queued reports that the operation was handed to the background queue
func Queued(wait int) SyncResult {
	return SyncResult{Kind: SyncQueued, Wait: wait}
}

// Uploaded reports a completed upload with its server timestamp
func Uploaded(ts int64) SyncResult {
	return SyncResult{Kind: SyncUploaded, Timestamp: ts}
}
