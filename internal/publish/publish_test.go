package publish

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDirLayout(t *testing.T) {
	got := Dir("publish/out", "cert", "az-104", "1.2.0")
	assert.Equal(t, filepath.Join("publish", "out", "cert", "az-104", "1.2.0"), got)
}

func TestCertVersion(t *testing.T) {
	assert.Equal(t, "1.0.0", CertVersion("", false))
	assert.Equal(t, "1.1.0", CertVersion("1.0.0", false))
	assert.Equal(t, "2.0.0", CertVersion("1.3.0", true), "removed claims bump major")
	assert.Equal(t, "1.0.0", CertVersion("garbage", false), "unparseable previous restarts")
}

func TestTopicTag(t *testing.T) {
	at := time.Date(2025, 11, 30, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-11-30", TopicTag(at))
}

func TestLabVersion(t *testing.T) {
	assert.Equal(t, "suite-3-abcdef012345",
		LabVersion("suite-3", "abcdef0123456789deadbeef"))
	assert.Equal(t, "suite-3-ff", LabVersion("suite-3", "ff"))
}

func TestStoryEpisode(t *testing.T) {
	assert.Equal(t, "ep0001", StoryEpisode(1))
	assert.Equal(t, "ep0042", StoryEpisode(42))
	assert.Equal(t, "ep1234", StoryEpisode(1234))
}

func TestVersionDispatch(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "1.1.0", Version("cert", "az-104", "1.0.0", "", 0, false, at))
	assert.Equal(t, "2025-06-01", Version("topic", "q", "", "", 0, false, at))
	assert.Equal(t, "s1-cafebabe0000", Version("lab", "s1", "", "cafebabe0000ffff", 0, false, at))
	assert.Equal(t, "ep0007", Version("story", "w", "", "", 7, false, at))
}
