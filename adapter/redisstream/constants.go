package redisstream

// Stream entry field names.
const (
	fieldID            = "id"
	fieldSubject       = "subject"
	fieldCorrelationID = "correlationId"
	fieldSessionKey    = "sessionKey"
	fieldPartitionKey  = "partitionKey"
	fieldContentType   = "contentType"
	fieldBody          = "body"       // raw []byte, no base64
	fieldProducedAt    = "producedAt" // int64 ns
	fieldMetaPrefix    = "meta:"
)
