package dbsock

// Response is a decoded answer to a request. It is returned as an error by Request when the
// server reported a failure.
type Response struct {
	Seq    uint64
	Failed bool
	Fields *Fields
}

// Returns the server's error message, when IsError()==true
func (r *Response) Error() string {
	if msg := r.Fields.Text(FieldErrorMsg); msg != "" {
		return msg
	}
	return "request failed"
}

// True if the server reported an error for the request
func (r *Response) IsError() bool {
	return r.Failed
}

// responseFields strips the routing fields from an inbound response
func responseFields(m *Message) *Fields {
	f := m.Fields.Clone()
	f.Delete(FieldCommand)
	f.Delete(FieldRequestSeq)
	f.Delete(FieldErrorInd)
	return f
}
