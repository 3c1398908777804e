package wizard

import "strconv"

// TokenSource mints correlation tokens for one wizard session. Tokens are
// the session id joined with a monotonic counter, so they are unique without
// depending on a randomness source, and a rotated session id opens a fresh
// token space. A TokenSource is not safe for concurrent use; the session
// owner serializes access the same way it serializes state mutation.
type TokenSource struct {
	session string
	seq     uint64
}

// NewTokenSource returns a token source bound to the given session id.
func NewTokenSource(sessionID string) *TokenSource {
	return &TokenSource{session: sessionID}
}

// Next mints the next token.
func (t *TokenSource) Next() string {
	t.seq++
	return t.session + "-" + strconv.FormatUint(t.seq, 10)
}

// WithCorrelation stamps the correlation token onto the document. The first
// stamp wins: once a token is set it is immutable for the lifetime of that
// submission attempt, and later calls return the state unchanged. Starting
// over requires a full reset to a freshly initialized document.
//
// Callers must stamp strictly before handing the submission to the backend,
// so a result can never exist without a token already recorded to match it
// against.
func (s State) WithCorrelation(token string) State {
	if s.CorrelationID != "" {
		return s
	}
	out := s.Clone()
	out.CorrelationID = token
	return out
}

// Result classifies a finished submission in a progress view.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Failure is an asynchronous failure record. Token carries the correlation
// token of the submission the record belongs to; records with a different
// token are invisible to that submission's progress view.
type Failure struct {
	Token   string
	Message string
}

// Progress is the read-side view of one submission attempt.
type Progress struct {
	InProgress bool
	Result     Result
	Messages   []string
}

// ResolveProgress projects the progress of the submission identified by
// token from the recorded results and failure records. A token with no
// recorded result is still in progress. Otherwise the result is success
// exactly when the recorded outcome is true, and the messages are the
// failure records carrying the same token, in record order.
//
// The projection is pure: it mutates nothing and returns the same view for
// the same inputs no matter how often it runs.
func ResolveProgress(token string, results map[string]bool, failures []Failure) Progress {
	outcome, ok := results[token]
	if !ok {
		return Progress{InProgress: true}
	}
	progress := Progress{Result: ResultError}
	if outcome {
		progress.Result = ResultSuccess
	}
	for _, f := range failures {
		if f.Token == token {
			progress.Messages = append(progress.Messages, f.Message)
		}
	}
	return progress
}
