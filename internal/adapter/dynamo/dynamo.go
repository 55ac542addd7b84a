// Package dynamo stores sync notes in a DynamoDB table keyed by
// (user_id, note_id). A per-user counter item in the same table hands out
// change sequence numbers for pull cursors.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/securenotes/internal/adapter"
	"github.com/jun/securenotes/internal/model"
)

const (
	// seqItemKey is the sort key of the per-user change sequence counter.
	seqItemKey = "#seq"

	// maxPushAttempts bounds retries after losing a race on the note or
	// the counter; the client backs off and resends after that.
	maxPushAttempts = 5
)

// Client is the subset of *dynamodb.Client used by NoteStore.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// NoteStore implements adapter.NoteStore on DynamoDB.
type NoteStore struct {
	client    Client
	tableName string
	now       func() time.Time
}

// NewNoteStore creates a NoteStore for the given table.
func NewNoteStore(client Client, tableName string) *NoteStore {
	return &NoteStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// PushNote writes the note and advances the user's change sequence in one
// transaction conditioned on both the note's version and the counter's
// previous value. Writes therefore become visible in sequence order, so a
// pull that has seen sequence N never misses a later write below N.
func (s *NoteStore) PushNote(ctx context.Context, userID string, req model.PushRequest) (*model.ServerNote, bool, error) {
	if err := adapter.ValidatePush(req); err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < maxPushAttempts; attempt++ {
		existing, err := s.getNote(ctx, userID, req.ID)
		if err != nil && !errors.Is(err, adapter.ErrNotFound) {
			return nil, false, err
		}

		// Decide first so conflicts and replays never touch the counter.
		decided, outcome := adapter.ResolvePush(existing, userID, req, 0, s.now().UTC())
		if !outcome.Writes() {
			return &decided, outcome == adapter.OutcomeConflict, nil
		}

		prev, err := s.currentSeq(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		next, _ := adapter.ResolvePush(existing, userID, req, prev+1, s.now().UTC())

		err = s.commit(ctx, next, existing, prev)
		if err == nil {
			return &next, false, nil
		}
		if !errors.Is(err, adapter.ErrConflict) {
			return nil, false, err
		}
	}

	return nil, false, fmt.Errorf("push note %s: %w", req.ID, adapter.ErrConflict)
}

func (s *NoteStore) PullNotes(ctx context.Context, userID string, since int64) ([]model.ServerNote, int64, error) {
	items, err := s.queryUser(ctx, userID, &since)
	if err != nil {
		return nil, 0, err
	}

	notes := make([]model.ServerNote, 0, len(items))
	latest := since
	for _, n := range items {
		if n.ChangeSeq <= since {
			continue
		}
		notes = append(notes, n)
		if n.ChangeSeq > latest {
			latest = n.ChangeSeq
		}
	}

	sort.Slice(notes, func(i, j int) bool {
		return notes[i].ChangeSeq < notes[j].ChangeSeq
	})
	return notes, latest, nil
}

func (s *NoteStore) ListNotes(ctx context.Context, userID string) ([]model.ServerNote, error) {
	notes, err := s.queryUser(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(notes, func(i, j int) bool {
		return notes[i].UpdatedAt.After(notes[j].UpdatedAt)
	})
	return notes, nil
}

func (s *NoteStore) getNote(ctx context.Context, userID, noteID string) (*model.ServerNote, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            noteKey(userID, noteID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	if out.Item == nil {
		return nil, adapter.ErrNotFound
	}

	var note model.ServerNote
	if err := attributevalue.UnmarshalMap(out.Item, &note); err != nil {
		return nil, fmt.Errorf("failed to unmarshal note: %w", err)
	}
	return &note, nil
}

// currentSeq returns the user's last issued change sequence (0 if none).
func (s *NoteStore) currentSeq(ctx context.Context, userID string) (int64, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            noteKey(userID, seqItemKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read change sequence: %w", err)
	}

	var counter struct {
		Seq int64 `dynamodbav:"seq"`
	}
	if out.Item != nil {
		if err := attributevalue.UnmarshalMap(out.Item, &counter); err != nil {
			return 0, fmt.Errorf("failed to unmarshal change sequence: %w", err)
		}
	}
	return counter.Seq, nil
}

// commit stores next and moves the counter from prev to next.ChangeSeq. It
// fails with adapter.ErrConflict if either the note or the counter changed
// since they were read.
func (s *NoteStore) commit(ctx context.Context, next model.ServerNote, existing *model.ServerNote, prev int64) error {
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("failed to marshal note: %w", err)
	}

	put := &types.Put{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if existing == nil {
		put.ConditionExpression = aws.String("attribute_not_exists(note_id)")
	} else {
		put.ConditionExpression = aws.String("sync_version = :expected")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(existing.SyncVersion, 10)},
		}
	}

	update := &types.Update{
		TableName:        aws.String(s.tableName),
		Key:              noteKey(next.UserID, seqItemKey),
		UpdateExpression: aws.String("SET seq = :next"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next": &types.AttributeValueMemberN{Value: strconv.FormatInt(next.ChangeSeq, 10)},
		},
	}
	if prev == 0 {
		update.ConditionExpression = aws.String("attribute_not_exists(seq)")
	} else {
		update.ConditionExpression = aws.String("seq = :prev")
		update.ExpressionAttributeValues[":prev"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(prev, 10)}
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{{Put: put}, {Update: update}},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return adapter.ErrConflict
		}
		return fmt.Errorf("failed to save note: %w", err)
	}
	return nil
}

// queryUser reads every note of a user, optionally filtered server-side to
// change sequences above since.
func (s *NoteStore) queryUser(ctx context.Context, userID string, since *int64) ([]model.ServerNote, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: aws.Bool(true),
	}
	if since != nil {
		input.FilterExpression = aws.String("change_seq > :since")
		input.ExpressionAttributeValues[":since"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*since, 10)}
	} else {
		input.FilterExpression = aws.String("attribute_exists(sync_version)")
	}

	var notes []model.ServerNote
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query notes: %w", err)
		}

		var items []model.ServerNote
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
		}
		for _, n := range items {
			if n.ID == "" || n.ID == seqItemKey {
				continue
			}
			notes = append(notes, n)
		}
	}
	return notes, nil
}

func noteKey(userID, noteID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
		"note_id": &types.AttributeValueMemberS{Value: noteID},
	}
}
