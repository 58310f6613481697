package ensureserviceuser

// Result is the access key of the service user and the location it may
// write dead-letter objects to. SecretAccessKey is only set when the key
// was created by this run.
type Result struct {
	SecretAccessKey *string `json:"SecretAccessKey,omitempty"`
	AccessKeyId     string  `json:"AccessKeyId"` //nolint:revive // matches the IAM field name
	Bucket          string  `json:"Bucket"`
	Prefix          string  `json:"Prefix"`
}

// OutputSuccess is the JSON document printed on success
type OutputSuccess struct {
	Data Result `json:"data"`
}

// OutputError is the JSON document printed on failure
type OutputError struct {
	Error string `json:"error"`
}
