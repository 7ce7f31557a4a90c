package consts

const CreateAction = "create"
const UpdateAction = "update"
const DeleteAction = "delete"

const DefaultTopic = "employee_cdc"
const DefaultConsumerGroup = "cdc_consumer_group"
const SyncStateTable = "trickle_sync_state"
const AppliedSequenceTable = "trickle_applied"
const WatermarkKeyPrefix = "watermark-"
const PublisherHeader = "trickle-publisher"
