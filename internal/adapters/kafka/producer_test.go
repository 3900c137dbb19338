package kafka

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkago "github.com/segmentio/kafka-go"
)

func TestProducer_GetWriterConcurrent(t *testing.T) {
	p := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	defer p.Close()

	const goroutines = 8
	topics := []string{"argus.optimization.events", "argus.attribution.events"}

	writers := make([][]*kafkago.Writer, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for _, topic := range topics {
				writers[i] = append(writers[i], p.getWriter(topic))
			}
		}(i)
	}
	wg.Wait()

	// Every goroutine must observe the same writer instance per topic
	for i := 1; i < goroutines; i++ {
		require.Len(t, writers[i], len(topics))
		for j := range topics {
			assert.Same(t, writers[0][j], writers[i][j])
		}
	}
}

func TestProducer_GetWriterReuse(t *testing.T) {
	p := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	defer p.Close()

	first := p.getWriter("argus.optimization.events")
	second := p.getWriter("argus.optimization.events")

	assert.Same(t, first, second)
	assert.Equal(t, "argus.optimization.events", first.Topic)
}
