package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinkKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{
			in:   "HTTPS://News.GXRB.com.cn:443/?xuhao=2&name=gxrb&date=2025-11-19&code=001#top",
			want: "https://news.gxrb.com.cn/?code=001&date=2025-11-19&name=gxrb&xuhao=2",
		},
		{
			in:   "http://fjrb.fjdaily.com:80/pc/con/202511/19/content_1.html",
			want: "http://fjrb.fjdaily.com/pc/con/202511/19/content_1.html",
		},
		{in: "  content_2.html ", want: "content_2.html"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, LinkKey(tc.in), tc.in)
	}
	require.Equal(t,
		LinkKey("https://a.test/x?b=2&a=1"),
		LinkKey("https://A.test/x?a=1&b=2#frag"),
	)
}
