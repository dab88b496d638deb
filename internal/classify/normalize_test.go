package classify

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phishingJSON = `{
	"model_name": "PHISHING/SMS SCAM DETECTION",
	"prediction": {
		"input": {"attack_type": "Spam", "text": "Free iPhone!"},
		"predicted_label": "phishing",
		"prediction": "🚨 Malicious Message",
		"probabilities": {"malicious": 0.94, "safe": 0.06}
	},
	"row_index": 66
}`

const sqliJSON = `{
	"classification": {"confidence": "High", "prediction": "SQLi", "probabilities": {"Ddos": 0.01, "Phishing": 0.02, "Sqli": 0.97}},
	"model_name": "SQL INJECTION DETECTION",
	"prediction": {
		"input": {"attack_type": "SQLi", "sentence": "' OR 1=1 --"},
		"predicted_label": "sqli",
		"prediction": "🚨 SQL Injection",
		"probabilities": {"malicious": 0.99, "safe": 0.01}
	},
	"row_index": 80
}`

const ddosJSON = `{
	"classification": {"confidence": "High", "prediction": "DDoS", "probabilities": {"Ddos": 0.88, "Phishing": 0.05, "Sqli": 0.07}},
	"model_name": "DDoS ATTACK PREDICTION",
	"prediction": {
		"input": {"Flow ID": "172.217.6.194-192.168.50.8-443-60122-6", " Source IP": "192.168.50.8", " Destination Port": "443.0"},
		"predicted_label": "ddos",
		"prediction": "DrDoS_DNS"
	},
	"row_index": 61
}`

func decode(t *testing.T, raw string) RawRecord {
	t.Helper()
	var rec RawRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec
}

func TestNormalize_Phishing(t *testing.T) {
	row, err := Normalize(decode(t, phishingJSON))
	require.NoError(t, err)

	assert.Equal(t, 66, row.Index)
	assert.Equal(t, FamilyPhishing, row.Family)
	require.NotNil(t, row.Text)
	assert.Equal(t, "Free iPhone!", *row.Text)
	require.NotNil(t, row.Prediction)
	assert.Equal(t, "🚨 Malicious Message", *row.Prediction, "decorative prefix must be kept")
	require.NotNil(t, row.Malicious)
	assert.Equal(t, 0.94, *row.Malicious)
	require.NotNil(t, row.Safe)
	assert.Equal(t, 0.06, *row.Safe)
	assert.Nil(t, row.Confidence)
	assert.Nil(t, row.RawPredictionInput, "only DDoS rows keep the raw input")
}

func TestNormalize_SQLiPrefersSentence(t *testing.T) {
	row, err := Normalize(decode(t, sqliJSON))
	require.NoError(t, err)

	assert.Equal(t, FamilySQLi, row.Family)
	require.NotNil(t, row.Text)
	assert.Equal(t, "' OR 1=1 --", *row.Text)
	require.NotNil(t, row.Confidence)
	assert.Equal(t, "High", *row.Confidence)
	assert.Equal(t, 0.99, *row.Malicious)
	assert.Equal(t, map[string]float64{"Ddos": 0.01, "Phishing": 0.02, "Sqli": 0.97}, row.Probabilities)
}

func TestNormalize_DDoSFromClassifier(t *testing.T) {
	row, err := Normalize(decode(t, ddosJSON))
	require.NoError(t, err)

	assert.Equal(t, FamilyDDoS, row.Family)
	require.NotNil(t, row.Text)
	assert.Equal(t, "Flow ID: 172.217.6.194-192.168.50.8-443-60122-6", *row.Text)
	require.NotNil(t, row.Malicious)
	assert.InDelta(t, 0.88, *row.Malicious, 1e-9)
	require.NotNil(t, row.Safe)
	assert.InDelta(t, 0.12, *row.Safe, 1e-9)
	assert.Len(t, row.RawPredictionInput, 3)
	assert.Equal(t, "DrDoS_DNS", *row.Prediction)
}

func TestNormalize_FlowInputWithoutLabel(t *testing.T) {
	input := map[string]any{}
	for i := 0; i < flowInputMinFields; i++ {
		input[string(rune('a'+i))] = float64(i)
	}
	rec := RawRecord{Prediction: &Prediction{Input: input, Prediction: "BENIGN"}}

	row, err := Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, FamilyDDoS, row.Family)
	assert.Equal(t, -1, row.Index)
	assert.Nil(t, row.Text)
	assert.Nil(t, row.Malicious)
	assert.Nil(t, row.Safe)
}

func TestNormalize_FallsBackToPredictionText(t *testing.T) {
	rec := RawRecord{Prediction: &Prediction{Text: "raw sample", PredictedLabel: "phishing"}}
	row, err := Normalize(rec)
	require.NoError(t, err)
	require.NotNil(t, row.Text)
	assert.Equal(t, "raw sample", *row.Text)
}

func TestNormalize_ComplementFillsMissingSide(t *testing.T) {
	rec := RawRecord{Prediction: &Prediction{
		PredictedLabel: "sqli",
		Probabilities:  map[string]float64{"malicious": 0.3},
	}}
	row, err := Normalize(rec)
	require.NoError(t, err)
	require.NotNil(t, row.Safe)
	assert.InDelta(t, 0.7, *row.Safe, 1e-9)
}

func TestNormalize_BackendRowError(t *testing.T) {
	rec := RawRecord{
		Classification: &Classification{Prediction: "Normal"},
		Prediction:     &Prediction{Error: "Unknown attack type: normal"},
		ModelName:      "UNKNOWN",
	}
	row, err := Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, "Unknown attack type: normal", row.Error)
	require.NotNil(t, row.PredictedLabel)
	assert.Equal(t, "Normal", *row.PredictedLabel)
	assert.Equal(t, FamilyOther, row.Family)
}

func TestNormalize_Malformed(t *testing.T) {
	row, err := Normalize(decode(t, `{"model_name":"X","row_index":5}`))

	var mre *MalformedRecordError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, 5, mre.RowIndex)

	assert.Equal(t, 5, row.Index)
	assert.True(t, row.Malformed)
	assert.Nil(t, row.Text)
	assert.Nil(t, row.Malicious)
	assert.Nil(t, row.Safe)
	assert.Nil(t, row.Probabilities)
	assert.Nil(t, row.Prediction)
}

func TestNormalize_MalformedWithoutIndex(t *testing.T) {
	_, err := Normalize(RawRecord{ModelName: "X"})
	var mre *MalformedRecordError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, -1, mre.RowIndex)
}

func TestNormalize_Deterministic(t *testing.T) {
	for _, raw := range []string{phishingJSON, sqliJSON, ddosJSON} {
		rec := decode(t, raw)
		first, err := Normalize(rec)
		require.NoError(t, err)
		second, err := Normalize(rec)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestNormalize_ProbabilitiesComplement(t *testing.T) {
	for _, raw := range []string{phishingJSON, sqliJSON, ddosJSON} {
		row, err := Normalize(decode(t, raw))
		require.NoError(t, err)
		if row.Malicious != nil && row.Safe != nil {
			assert.InDelta(t, 1.0, *row.Malicious+*row.Safe, 1e-9)
		}
	}
}

func TestNormalize_DoesNotAliasInput(t *testing.T) {
	rec := decode(t, ddosJSON)
	row, err := Normalize(rec)
	require.NoError(t, err)

	rec.Prediction.Input["Flow ID"] = "changed"
	rec.Classification.Probabilities["Ddos"] = 0
	assert.Equal(t, "172.217.6.194-192.168.50.8-443-60122-6", row.RawPredictionInput["Flow ID"])
	assert.Equal(t, 0.88, row.Probabilities["Ddos"])
}

func TestNormalizeAll_KeepsMalformedRows(t *testing.T) {
	records := []RawRecord{
		decode(t, phishingJSON),
		decode(t, `{"model_name":"X","row_index":5}`),
		decode(t, ddosJSON),
	}
	rows, err := NormalizeAll(records)
	require.Error(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{66, 5, 61}, []int{rows[0].Index, rows[1].Index, rows[2].Index})

	var mre *MalformedRecordError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, 5, mre.RowIndex)
}

func TestInputString(t *testing.T) {
	input := map[string]any{" Flow ID": "abc", "port": 443.0, "empty": "", "nil": nil}

	v, ok := inputString(input, "Flow ID")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	v, ok = inputString(input, "port")
	assert.True(t, ok)
	assert.Equal(t, "443", v)

	_, ok = inputString(input, "empty")
	assert.False(t, ok)
	_, ok = inputString(input, "nil")
	assert.False(t, ok)
	_, ok = inputString(nil, "x")
	assert.False(t, ok)
}
