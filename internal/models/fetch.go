package models

import "fmt"

// FetchStatus tags the outcome of a fetch attempt or a whole fetch stage.
type FetchStatus int

const (
	FetchSuccess FetchStatus = iota
	FetchBlocked
	FetchNetworkError
)

func (s FetchStatus) String() string {
	switch s {
	case FetchSuccess:
		return "success"
	case FetchBlocked:
		return "blocked"
	case FetchNetworkError:
		return "network_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// FetchAttempt records one identity tried against the target URL.
type FetchAttempt struct {
	Identity   string
	StatusCode int
	Status     FetchStatus
	Reason     string
	Err        error
}

// FetchResult is the outcome of a fetch stage. HTML is set only on FetchSuccess.
type FetchResult struct {
	HTML     string
	Status   FetchStatus
	Attempts []FetchAttempt
	Err      error
}

func (r FetchResult) OK() bool {
	return r.Status == FetchSuccess && r.HTML != ""
}

// Reason returns the reason recorded on the last attempt, if any.
func (r FetchResult) Reason() string {
	if len(r.Attempts) == 0 {
		return ""
	}
	return r.Attempts[len(r.Attempts)-1].Reason
}
