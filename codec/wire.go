package codec

// Wire shapes of a record. Pointers mark fields whose absence the decoder
// must be able to tell apart from a zero value.

type record struct {
	ResultType  *int             `json:"resultType"`
	Description *wireDescription `json:"description,omitempty"`
	Result      *wireResult      `json:"result,omitempty"`
	Failure     *wireFailure     `json:"failure,omitempty"`
}

type wireDescription struct {
	ClassName   string  `json:"className"`
	MethodName  string  `json:"methodName,omitempty"`
	DisplayName *string `json:"displayName"`
}

type wireResult struct {
	RunCount      *int   `json:"runCount"`
	FailureCount  *int   `json:"failureCount"`
	IgnoreCount   *int   `json:"ignoreCount"`
	ElapsedMillis *int64 `json:"elapsedMillis"`
}

type wireFailure struct {
	Description *wireDescription `json:"description"`
	wireException
}

type wireException struct {
	Message     string         `json:"message,omitempty"`
	StackFrames []wireFrame    `json:"stackFrames"`
	Cause       *wireException `json:"cause,omitempty"`
}

type wireFrame struct {
	Entity string `json:"entity"`
	Member string `json:"member"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}
