package markov

// Observer receives a notification for every finished ingestion and
// generation. Implementations must be safe for concurrent use.
type Observer interface {
	SentenceIngested(tenant string, tokens int, err error)
	SentenceGenerated(tenant string, tokens int, err error)
}

type nopObserver struct{}

func (nopObserver) SentenceIngested(string, int, error)  {}
func (nopObserver) SentenceGenerated(string, int, error) {}
