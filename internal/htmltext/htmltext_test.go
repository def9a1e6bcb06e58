package htmltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstImage(t *testing.T) {
	frag := `<p>intro</p><img src="data:image/png;base64,AAA"><figure><img src="/img/a.jpg"></figure><img src="b.jpg">`
	assert.Equal(t, "https://example.com/img/a.jpg", FirstImage(frag, "https://example.com/post/1"))
	assert.Equal(t, "/img/a.jpg", FirstImage(frag, ""))
	assert.Empty(t, FirstImage("<p>no images</p>", "https://example.com"))
	assert.Empty(t, FirstImage("", "https://example.com"))
}

func TestText(t *testing.T) {
	frag := `<h1>Title</h1><p>Hello   <b>world</b></p><script>alert(1)</script><ul><li>one</li><li>two</li></ul>`
	assert.Equal(t, "Title\nHello world\none\ntwo", Text(frag))
	assert.Empty(t, Text("   "))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", Excerpt("short   text", 50))
	assert.Equal(t, "the quick brown…", Excerpt("the quick brown fox jumps", 18))
	assert.Equal(t, "unchanged", Excerpt("unchanged", 0))
}
