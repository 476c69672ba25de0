package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quickdoc/docchat-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the Store interface using a BoltDB backend for per-session conversation and
// document state. Each browser session owns one message bucket plus one entry in the shared
// documents bucket, so a reset can drop a session's state without touching other sessions.
type BoltDB struct {
	db *bolt.DB
}

const documentsBucket = "documents"

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the
// database with required buckets and returns an error if the database cannot be opened or
// initialized. The database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(documentsBucket))
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

// Messages retrieves the session's conversation in insertion order.
func (b BoltDB) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(messageBucketName(sessionID))
		if bk == nil {
			return nil
		}

		return bk.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AppendMessage stores a new message at the end of the session's conversation. It generates a
// unique ID for the message by combining a sequence number with the message's original ID, and
// returns the new ID or an error if the operation fails.
func (b BoltDB) AppendMessage(_ context.Context, sessionID string, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(messageBucketName(sessionID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		idPrefix, err := bk.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		// Zero-padded so the bucket's byte order matches insertion order.
		newID = fmt.Sprintf("%010d-%s", idPrefix, message.ID)
		message.ID = newID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bk.Put([]byte(newID), v)
	})

	return newID, err
}

// SetMessages replaces the session's conversation wholesale. The upload coordinator uses this
// to seed the single welcome message after a successful extraction.
func (b BoltDB) SetMessages(_ context.Context, sessionID string, messages []models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		name := messageBucketName(sessionID)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete message bucket: %w", err)
			}
		}

		bk, err := tx.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		for _, message := range messages {
			idPrefix, err := bk.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to get next sequence: %w", err)
			}
			message.ID = fmt.Sprintf("%010d-%s", idPrefix, message.ID)

			v, err := json.Marshal(message)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := bk.Put([]byte(message.ID), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Document retrieves the session's document state. A session without an upload yields the zero
// Document.
func (b BoltDB) Document(_ context.Context, sessionID string) (models.Document, error) {
	var doc models.Document
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(documentsBucket))
		if bk == nil {
			return nil
		}

		v := bk.Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal document: %w", err)
		}
		return nil
	})
	return doc, err
}

// SetDocument replaces the session's document state wholesale.
func (b BoltDB) SetDocument(_ context.Context, sessionID string, doc models.Document) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(documentsBucket))
		if bk == nil {
			return nil
		}

		v, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}

		return bk.Put([]byte(sessionID), v)
	})
}

// Reset removes the session's conversation and document state in one transaction, so no
// intermediate state is observable.
func (b BoltDB) Reset(_ context.Context, sessionID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		name := messageBucketName(sessionID)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete message bucket: %w", err)
			}
		}

		bk := tx.Bucket([]byte(documentsBucket))
		if bk == nil {
			return nil
		}
		return bk.Delete([]byte(sessionID))
	})
}
