package artifact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recallkit/pkg/types"
)

func spanValues(r *Result, t types.ArtifactType) []string {
	var values []string
	for _, span := range r.ByType[t] {
		values = append(values, span.RawValue)
	}
	return values
}

func TestDetect_Empty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		result := Detect(text)
		assert.False(t, result.HasArtifacts)
		assert.Empty(t, result.ByType)
	}
}

func TestDetect_Email(t *testing.T) {
	result := Detect("My email is john@example.com, reach me there.")
	require.Len(t, result.ByType[types.ArtifactEmail], 1)

	span := result.ByType[types.ArtifactEmail][0]
	assert.Equal(t, "john@example.com", span.RawValue)
	assert.Equal(t, "john@example.com", span.NormalizedValue)
	assert.InDelta(t, 0.95, span.Confidence, 1e-9)
	assert.True(t, result.HasArtifacts)
}

func TestDetect_EmailUnicode(t *testing.T) {
	result := Detect("schreib an müller@beispiel.de bitte")
	require.Len(t, result.ByType[types.ArtifactEmail], 1)
	assert.Equal(t, "müller@beispiel.de", result.ByType[types.ArtifactEmail][0].RawValue)
}

func TestDetect_URLWithScheme(t *testing.T) {
	result := Detect("docs live at https://docs.example.com/guide?x=1.")
	require.Len(t, result.ByType[types.ArtifactURL], 1)

	span := result.ByType[types.ArtifactURL][0]
	assert.Equal(t, "https://docs.example.com/guide?x=1", span.RawValue)
	assert.InDelta(t, 0.95, span.Confidence, 1e-9)
}

func TestDetect_BareDomain(t *testing.T) {
	result := Detect("check example.com for details")
	require.Len(t, result.ByType[types.ArtifactURL], 1)

	span := result.ByType[types.ArtifactURL][0]
	assert.Equal(t, "example.com", span.RawValue)
	assert.Equal(t, "https://example.com", span.NormalizedValue)
	assert.InDelta(t, 0.8, span.Confidence, 1e-9)
}

func TestDetect_BareDomainRejectsFilenames(t *testing.T) {
	result := Detect("edit config.yaml and main.rs today")
	assert.Empty(t, result.ByType[types.ArtifactURL])
}

func TestDetect_EmailDomainNotAlsoURL(t *testing.T) {
	result := Detect("write to jane@corp.com")
	assert.Len(t, result.ByType[types.ArtifactEmail], 1)
	assert.Empty(t, result.ByType[types.ArtifactURL])
}

func TestDetect_UUID(t *testing.T) {
	result := Detect("ticket 7F9C24E5-1D2B-4E0A-9FAB-01C72E5D8A6B opened")
	require.Len(t, result.ByType[types.ArtifactUUID], 1)

	span := result.ByType[types.ArtifactUUID][0]
	assert.Equal(t, "7f9c24e5-1d2b-4e0a-9fab-01c72e5d8a6b", span.NormalizedValue)
	assert.InDelta(t, 1.0, span.Confidence, 1e-9)

	// v1 UUID (version nibble 1) must not match the strict v4 recognizer.
	none := Detect("id 7f9c24e5-1d2b-1e0a-9fab-01c72e5d8a6b")
	assert.Empty(t, none.ByType[types.ArtifactUUID])
}

func TestDetect_IPv4(t *testing.T) {
	result := Detect("server at 192.168.1.10 is down")
	require.Len(t, result.ByType[types.ArtifactIPv4], 1)
	assert.InDelta(t, 0.95, result.ByType[types.ArtifactIPv4][0].Confidence, 1e-9)

	none := Detect("version 999.999.999.999 broke")
	assert.Empty(t, none.ByType[types.ArtifactIPv4])
}

func TestDetect_IPv6(t *testing.T) {
	result := Detect("listening on 2001:db8::8a2e:370:7334 now")
	require.Len(t, result.ByType[types.ArtifactIPv6], 1)
	assert.InDelta(t, 0.9, result.ByType[types.ArtifactIPv6][0].Confidence, 1e-9)

	// Clock times are colon-separated but not addresses.
	none := Detect("meeting at 12:30:45 sharp")
	assert.Empty(t, none.ByType[types.ArtifactIPv6])
}

func TestDetect_ISODate(t *testing.T) {
	result := Detect("deadline is 2026-03-15, then 2026-03-15T10:30:00Z kickoff")
	spans := result.ByType[types.ArtifactDate]
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.InDelta(t, 1.0, span.Confidence, 1e-9)
	}
}

func TestDetect_LocaleDate(t *testing.T) {
	result := Detect("the invoice from 12/31/2024 and the one from 31.12.2024")
	spans := result.ByType[types.ArtifactDate]
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.InDelta(t, 0.8, span.Confidence, 1e-9)
	}
}

func TestDetect_LocaleDateDoesNotDoubleCountISO(t *testing.T) {
	// The ISO recognizer owns 2026-03-15; the locale recognizer must not
	// emit an overlapping second span.
	result := Detect("on 2026-03-15 we ship")
	assert.Len(t, result.ByType[types.ArtifactDate], 1)
}

func TestDetect_Money(t *testing.T) {
	result := Detect("budget is $1,250.50 or about EUR 1150")
	spans := result.ByType[types.ArtifactMoney]
	require.Len(t, spans, 2)

	byRaw := map[string]string{}
	for _, span := range spans {
		byRaw[span.RawValue] = span.NormalizedValue
		assert.InDelta(t, 0.85, span.Confidence, 1e-9)
	}
	assert.Equal(t, "$1250.50", byRaw["$1,250.50"])
}

func TestDetect_JSON(t *testing.T) {
	result := Detect(`response was {"status":"ok","count":3} from the API`)
	require.Len(t, result.ByType[types.ArtifactJSON], 1)
	assert.Equal(t, `{"status":"ok","count":3}`, result.ByType[types.ArtifactJSON][0].RawValue)
	assert.InDelta(t, 1.0, result.ByType[types.ArtifactJSON][0].Confidence, 1e-9)
}

func TestDetect_JSONInvalidDropped(t *testing.T) {
	result := Detect(`broken {"status": "ok", } payload and prose {like this}`)
	assert.Empty(t, result.ByType[types.ArtifactJSON])
}

func TestDetect_JSONNested(t *testing.T) {
	result := Detect(`got {"outer":{"inner":[1,2,3]}} back`)
	require.Len(t, result.ByType[types.ArtifactJSON], 1)
	assert.Equal(t, `{"outer":{"inner":[1,2,3]}}`, result.ByType[types.ArtifactJSON][0].RawValue)
}

func TestDetect_FilePath(t *testing.T) {
	result := Detect(`logs are in /var/log/app/errors.log and C:\Users\jo\notes.txt`)
	values := spanValues(result, types.ArtifactFilePath)
	assert.Contains(t, values, "/var/log/app/errors.log")
	assert.Contains(t, values, `C:\Users\jo\notes.txt`)
}

func TestDetect_FilePathRelative(t *testing.T) {
	result := Detect("the handler sits in internal/api/handlers.go now")
	assert.Contains(t, spanValues(result, types.ArtifactFilePath), "internal/api/handlers.go")
}

func TestDetect_FilePathSkipsShortAndDates(t *testing.T) {
	result := Detect("a/b happened on 12/31/2024")
	assert.Empty(t, result.ByType[types.ArtifactFilePath])
}

func TestDetect_IBAN(t *testing.T) {
	result := Detect("transfer to DE89370400440532013000 please")
	require.Len(t, result.ByType[types.ArtifactIBAN], 1)
	assert.InDelta(t, 0.85, result.ByType[types.ArtifactIBAN][0].Confidence, 1e-9)
}

func TestDetect_Phone(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantPhone  bool
		normalized string
	}{
		{"international", "call me at +49 170 1234567 tonight", true, "+491701234567"},
		{"us dashed", "fax: 415-555-0132 anytime", true, "4155550132"},
		{"parenthesized", "office (020) 7946 0958 line", true, "02079460958"},
		{"plain digit run without separator", "code 4155550132 entered", false, ""},
		{"too short", "ext. 12-345", false, ""},
		{"compact date shape", "born 1987 06 14 actually", false, ""},
		{"iso timestamp not phone", "at 2026-03-15 10:30 sharp", false, ""},
		{"dotted locale date not phone", "paid on 31.12.2024 in full", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Detect(tt.text)
			spans := result.ByType[types.ArtifactPhone]
			if !tt.wantPhone {
				assert.Empty(t, spans)
				return
			}
			require.Len(t, spans, 1)
			assert.Equal(t, tt.normalized, spans[0].NormalizedValue)
			assert.InDelta(t, 0.7, spans[0].Confidence, 1e-9)
		})
	}
}

func TestRawValues_SortedAndDeduplicated(t *testing.T) {
	result := Detect("mail a@b.com or a@b.com, site https://z.example.com")
	values := result.RawValues()
	assert.True(t, sortedStrings(values))
	assert.Len(t, values, 2)
}

func sortedStrings(values []string) bool {
	for i := 1; i < len(values); i++ {
		if strings.Compare(values[i-1], values[i]) > 0 {
			return false
		}
	}
	return true
}

func TestIsPII(t *testing.T) {
	assert.True(t, IsPII(Detect("mail me at a@b.com")))
	assert.True(t, IsPII(Detect("call +1 415-555-0132 now")))
	assert.False(t, IsPII(Detect("see https://example.com")))
	assert.False(t, IsPII(nil))
}

func TestMostValuable(t *testing.T) {
	// UUID confidence (1.0) beats email (0.95) regardless of type priority.
	result := Detect("john@example.com filed 7f9c24e5-1d2b-4e0a-9fab-01c72e5d8a6b")
	best := MostValuable(result)
	require.NotNil(t, best)
	assert.Equal(t, types.ArtifactUUID, best.Type)

	// At equal confidence, the priority order decides: email over ipv4.
	tie := Detect("john@example.com pinged 10.0.0.1")
	best = MostValuable(tie)
	require.NotNil(t, best)
	assert.Equal(t, types.ArtifactEmail, best.Type)

	assert.Nil(t, MostValuable(Detect("nothing here")))
	assert.Nil(t, MostValuable(nil))
}

func TestDetectToolOutput_Map(t *testing.T) {
	payload := map[string]any{
		"id":     "7f9c24e5-1d2b-4e0a-9fab-01c72e5d8a6b",
		"url":    "https://tracker.example.com/t/991",
		"status": "open",
	}
	result := DetectToolOutput(payload)
	assert.Len(t, result.ByType[types.ArtifactUUID], 1)
	assert.NotEmpty(t, result.ByType[types.ArtifactURL])
	// The full stringified payload is scanned too, and is itself JSON.
	assert.NotEmpty(t, result.ByType[types.ArtifactJSON])
}

func TestDetectToolOutput_StringAndNil(t *testing.T) {
	result := DetectToolOutput("wrote /tmp/out/report.pdf")
	assert.NotEmpty(t, result.ByType[types.ArtifactFilePath])

	assert.False(t, DetectToolOutput(nil).HasArtifacts)
}

func TestResultMerge_Deduplicates(t *testing.T) {
	a := Detect("mail a@b.com")
	b := Detect("mail a@b.com and c@d.com")
	a.Merge(b)
	assert.Len(t, a.ByType[types.ArtifactEmail], 2)
}

func TestDetect_MultilingualPlainText(t *testing.T) {
	// Artifact detection is structural, not linguistic: prose in any
	// language without structured tokens yields nothing.
	for _, text := range []string{
		"Ich mag grünen Tee am Morgen",
		"J'aime le thé vert le matin",
		"私は朝に緑茶を飲むのが好きです",
	} {
		assert.False(t, Detect(text).HasArtifacts, text)
	}
}
