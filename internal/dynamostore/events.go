package dynamostore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/store"
	"github.com/lox/vinewater/internal/units"
)

// Open date bounds for the GSI range key.
const (
	minDate = "0000-01-01"
	maxDate = "9999-12-31"
)

type eventItem struct {
	ID                string  `dynamodbav:"id"`
	BlockID           string  `dynamodbav:"block_id"`
	Date              string  `dynamodbav:"date"`
	DurationHours     float64 `dynamodbav:"duration_hours"`
	FlowRateGPM       float64 `dynamodbav:"flow_rate_gpm"`
	TotalWaterGallons float64 `dynamodbav:"total_water_gallons"`
	Method            string  `dynamodbav:"method,omitempty"`
	Notes             string  `dynamodbav:"notes,omitempty"`
	Source            string  `dynamodbav:"source"`
	ScheduleID        string  `dynamodbav:"schedule_id,omitempty"`
	ZoneNumber        *int64  `dynamodbav:"zone_number,omitempty"`
	CreatedAt         string  `dynamodbav:"created_at"`
}

// EventRepository persists irrigation events in DynamoDB.
type EventRepository struct {
	api   API
	table string
}

func NewEventRepository(api API, table string) *EventRepository {
	if table == "" {
		table = DefaultTable
	}
	return &EventRepository{api: api, table: table}
}

// ScheduleEventID is the deterministic key of a schedule's event on a date.
func ScheduleEventID(scheduleID string, date time.Time) string {
	return "sched#" + scheduleID + "#" + dates.Format(date)
}

func prepareEvent(ev models.IrrigationEvent) models.IrrigationEvent {
	ev.Date = dates.Day(ev.Date)
	if ev.ID == "" {
		if ev.ScheduleID.Valid {
			ev.ID = ScheduleEventID(ev.ScheduleID.String, ev.Date)
		} else {
			ev.ID = uuid.NewString()
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = models.SourceManual
	}
	ev.TotalWaterGallons = units.FlowGallons(ev.DurationHours, ev.FlowRateGPM)
	return ev
}

func toEventItem(ev models.IrrigationEvent) eventItem {
	it := eventItem{
		ID:                ev.ID,
		BlockID:           ev.BlockID,
		Date:              dates.Format(ev.Date),
		DurationHours:     ev.DurationHours,
		FlowRateGPM:       ev.FlowRateGPM,
		TotalWaterGallons: ev.TotalWaterGallons,
		Method:            ev.Method,
		Notes:             ev.Notes,
		Source:            string(ev.Source),
		CreatedAt:         ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.ScheduleID.Valid {
		it.ScheduleID = ev.ScheduleID.String
	}
	if ev.ZoneNumber.Valid {
		z := ev.ZoneNumber.Int64
		it.ZoneNumber = &z
	}
	return it
}

func fromEventItem(it eventItem) (models.IrrigationEvent, error) {
	d, err := dates.Parse(it.Date)
	if err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("event %s: %w", it.ID, err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
	ev := models.IrrigationEvent{
		ID:                it.ID,
		BlockID:           it.BlockID,
		Date:              d,
		DurationHours:     it.DurationHours,
		FlowRateGPM:       it.FlowRateGPM,
		TotalWaterGallons: it.TotalWaterGallons,
		Method:            it.Method,
		Notes:             it.Notes,
		Source:            models.EventSource(it.Source),
		ScheduleID:        sql.NullString{String: it.ScheduleID, Valid: it.ScheduleID != ""},
		CreatedAt:         createdAt,
	}
	if it.ZoneNumber != nil {
		ev.ZoneNumber = sql.NullInt64{Int64: *it.ZoneNumber, Valid: true}
	}
	return ev, nil
}

func (r *EventRepository) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func (r *EventRepository) put(ctx context.Context, ev models.IrrigationEvent) error {
	av, err := attributevalue.MarshalMap(toEventItem(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	})
	return err
}

func (r *EventRepository) CreateEvent(ctx context.Context, ev models.IrrigationEvent) (models.IrrigationEvent, error) {
	ev = prepareEvent(ev)
	if err := r.put(ctx, ev); err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("put event %s: %w", ev.ID, err)
	}
	return ev, nil
}

// CreateEventIfMissing writes the event unless its key already exists.
// Reports whether an item was written.
func (r *EventRepository) CreateEventIfMissing(ctx context.Context, ev models.IrrigationEvent) (bool, error) {
	ev = prepareEvent(ev)
	err := r.put(ctx, ev)
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return false, nil
		}
		return false, fmt.Errorf("put event %s: %w", ev.ID, err)
	}
	return true, nil
}

func (r *EventRepository) GetEvent(ctx context.Context, id string) (models.IrrigationEvent, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("get event %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return models.IrrigationEvent{}, fmt.Errorf("event %s: %w", id, store.ErrNotFound)
	}
	var it eventItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("unmarshal event %s: %w", id, err)
	}
	return fromEventItem(it)
}

// ListEvents queries the block_date index for [start, end]. A zero bound is open.
func (r *EventRepository) ListEvents(ctx context.Context, blockID string, start, end time.Time) ([]models.IrrigationEvent, error) {
	lo, hi := minDate, maxDate
	if !start.IsZero() {
		lo = dates.Format(start)
	}
	if !end.IsZero() {
		hi = dates.Format(end)
	}

	p := dynamodb.NewQueryPaginator(r.api, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(BlockDateIndex),
		KeyConditionExpression: aws.String("#block = :block AND #date BETWEEN :lo AND :hi"),
		ExpressionAttributeNames: map[string]string{
			"#block": "block_id",
			"#date":  "date",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":block": &types.AttributeValueMemberS{Value: blockID},
			":lo":    &types.AttributeValueMemberS{Value: lo},
			":hi":    &types.AttributeValueMemberS{Value: hi},
		},
	})

	var events []models.IrrigationEvent
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query events for %s: %w", blockID, err)
		}
		var items []eventItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}
		for _, it := range items {
			ev, err := fromEventItem(it)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return events, nil
}

// UpdateEvent applies a patch and recomputes the total volume. Schedule
// events are keyed by date so they cannot be moved.
func (r *EventRepository) UpdateEvent(ctx context.Context, id string, p models.EventPatch) (models.IrrigationEvent, error) {
	ev, err := r.GetEvent(ctx, id)
	if err != nil {
		return models.IrrigationEvent{}, err
	}
	if p.Date != nil {
		day := dates.Day(*p.Date)
		if ev.ScheduleID.Valid && !day.Equal(ev.Date) {
			return models.IrrigationEvent{}, fmt.Errorf("update event %s: %w", id, store.ErrScheduledDateChange)
		}
		ev.Date = day
	}
	if p.DurationHours != nil {
		ev.DurationHours = *p.DurationHours
	}
	if p.FlowRateGPM != nil {
		ev.FlowRateGPM = *p.FlowRateGPM
	}
	if p.Method != nil {
		ev.Method = *p.Method
	}
	if p.Notes != nil {
		ev.Notes = *p.Notes
	}
	if p.ZoneNumber != nil {
		ev.ZoneNumber = sql.NullInt64{Int64: *p.ZoneNumber, Valid: true}
	}
	ev.TotalWaterGallons = units.FlowGallons(ev.DurationHours, ev.FlowRateGPM)

	av, err := attributevalue.MarshalMap(toEventItem(ev))
	if err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	})
	if err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("update event %s: %w", id, err)
	}
	return ev, nil
}

func (r *EventRepository) DeleteEvent(ctx context.Context, id string) error {
	_, err := r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.table),
		Key:                      r.key(id),
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return fmt.Errorf("event %s: %w", id, store.ErrNotFound)
		}
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return nil
}

// DetachScheduleEvents clears the schedule reference on a schedule's remaining
// events so they stay as history after the schedule is deleted. Items keep
// their key.
func (r *EventRepository) DetachScheduleEvents(ctx context.Context, blockID, scheduleID string) (int, error) {
	events, err := r.ListEvents(ctx, blockID, time.Time{}, time.Time{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range events {
		if !ev.ScheduleID.Valid || ev.ScheduleID.String != scheduleID {
			continue
		}
		ev.ScheduleID = sql.NullString{}
		av, err := attributevalue.MarshalMap(toEventItem(ev))
		if err != nil {
			return n, fmt.Errorf("marshal event: %w", err)
		}
		_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(r.table),
			Item:                     av,
			ConditionExpression:      aws.String("attribute_exists(#id)"),
			ExpressionAttributeNames: map[string]string{"#id": "id"},
		})
		if err != nil {
			return n, fmt.Errorf("detach event %s: %w", ev.ID, err)
		}
		n++
	}
	return n, nil
}
