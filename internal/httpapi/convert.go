package httpapi

import (
	"encoding/json"
	"net/http"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf clients get the same document the JSON clients see, carried as a
// google.protobuf.Struct.  Field names match the JSON tags.

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// readStruct decodes a protobuf Struct body into v through its JSON form,
// so unknown fields are rejected the same way for both encodings.
func readStruct(r *http.Request, v any) error {
	var st structpb.Struct
	if err := readProto(r, &st); err != nil {
		return err
	}
	raw, err := protojson.Marshal(&st)
	if err != nil {
		return err
	}
	return decodeStrict(raw, v)
}

func writeResult(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		st, err := toStruct(v)
		if err != nil {
			http.Error(w, "proto convert error", http.StatusInternalServerError)
			return
		}
		writeProto(w, status, st)
		return
	}
	writeJSON(w, status, v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeResult(w, r, status, errorBody{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
