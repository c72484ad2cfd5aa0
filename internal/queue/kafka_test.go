package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pair-tracker/internal/config"
	"github.com/pair-tracker/internal/models"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func transferRow(hash string, logIndex int64) *models.Transaction {
	return &models.Transaction{
		Hash:            hash,
		BlockNumber:     17165000,
		LogIndex:        logIndex,
		Date:            time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC),
		From:            "0xa",
		To:              "0xb",
		ContractAddress: "0xc",
		Value:           "42",
		TokenSymbol:     "USDC",
		Confirmations:   "3",
	}
}

func TestPublishTransfersKeysByEvent(t *testing.T) {
	w := &recordingWriter{}
	p := newTransferPublisher(w, "pair-transfers")
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return at }

	rows := []*models.Transaction{transferRow("0xaa", 1), transferRow("0xaa", 2)}
	require.NoError(t, p.PublishTransfers(context.Background(), rows))

	require.Len(t, w.msgs, 2)
	for i, msg := range w.msgs {
		assert.Equal(t, rows[i].EventKey(), string(msg.Key))
		assert.Equal(t, at, msg.Time)

		var decoded models.Transaction
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, rows[i].LogIndex, decoded.LogIndex)
		assert.Equal(t, "0xaa", decoded.Hash)
	}
}

func TestPublishTransfersEmptyIsNoop(t *testing.T) {
	w := &recordingWriter{err: errors.New("must not be called")}
	p := newTransferPublisher(w, "t")

	assert.NoError(t, p.PublishTransfers(context.Background(), nil))
	assert.Empty(t, w.msgs)
}

func TestPublishTransfersWrapsWriterError(t *testing.T) {
	w := &recordingWriter{err: kafka.LeaderNotAvailable}
	p := newTransferPublisher(w, "pair-transfers")

	err := p.PublishTransfers(context.Background(), []*models.Transaction{transferRow("0xbb", 0)})
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
	assert.ErrorContains(t, err, "pair-transfers")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewTransferPublisherValidation(t *testing.T) {
	_, err := NewTransferPublisher(&config.KafkaConfig{Topic: "t"})
	assert.ErrorContains(t, err, "no brokers")

	_, err = NewTransferPublisher(&config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.ErrorContains(t, err, "topic")

	p, err := NewTransferPublisher(&config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", WriteTimeout: time.Second})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
