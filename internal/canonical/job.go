package canonical

// JobVariant tags a DeliveryJob with the exact delivery path RouterWorker
// already decided on, so DeliveryWorker never has to re-derive it from
// nullable fields.
type JobVariant string

const (
	// VariantCreateWithWebhook sends via an impersonating webhook.
	VariantCreateWithWebhook JobVariant = "create_webhook"
	// VariantCreateFallback sends via platform-native send with best-effort impersonation.
	VariantCreateFallback JobVariant = "create_fallback"
	// VariantUpdateDirect edits the destination message via webhook-edit.
	VariantUpdateDirect JobVariant = "update_direct"
	// VariantUpdateWorkaround posts a new message with a jump link (Platform B).
	VariantUpdateWorkaround JobVariant = "update_workaround"
	// VariantDelete deletes the destination message (and any workaround message).
	VariantDelete JobVariant = "delete"
)

// DeliveryJob is the transient, queue-persisted unit of work a RouterWorker
// hands to a DeliveryWorker.
type DeliveryJob struct {
	Variant JobVariant `json:"variant"`
	Event   Event      `json:"event"`

	BridgePairID    string `json:"bridgePairId"`
	TargetPlatform  Platform `json:"targetPlatform"`
	TargetChannelID string `json:"targetChannelId"`
	TargetGuildID   string `json:"targetGuildId,omitempty"`

	TargetWebhookID    string `json:"targetWebhookId,omitempty"`
	TargetWebhookToken string `json:"targetWebhookToken,omitempty"`

	SyncUploads bool `json:"syncUploads"`
}

// QueueName is the delivery queue this job belongs on:
// "deliver:<platform>:<channelId>".
func (j DeliveryJob) QueueName() string {
	return DeliveryQueueName(j.TargetPlatform, j.TargetChannelID)
}

// DeliveryQueueName builds the load-bearing per-channel delivery queue name.
func DeliveryQueueName(platform Platform, channelID string) string {
	return "deliver:" + string(platform) + ":" + channelID
}

// IngestQueueName is the single global ingest queue name.
const IngestQueueName = "ingest"
