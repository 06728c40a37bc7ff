package notify

import (
	"context"

	"github.com/goliatone/go-print"

	"github.com/betagouv/secretariat"
	"github.com/betagouv/secretariat/activitymap"
)

// ActivityLogger is an activity sink writing normalized events to the logger
func ActivityLogger(logger secretariat.Logger, opts ...activitymap.Option) secretariat.ActivitySink {
	return secretariat.ActivitySinkFunc(func(ctx context.Context, event secretariat.ActivityEvent) error {
		if logger == nil {
			return nil
		}
		record := activitymap.Normalize(event, opts...)
		logger.Info("activity",
			"verb", record.Verb,
			"actor", record.ActorID,
			"object_type", record.ObjectType,
			"object", record.ObjectID,
			"channel", record.Channel,
			"at", record.OccurredAt,
			"metadata", print.MaybePrettyJSON(record.Metadata),
		)
		return nil
	})
}
