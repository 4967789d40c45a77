package readers

import (
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePdftotext(t *testing.T) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		t.Skip("pdftotext is not installed")
	}
}

func Test_PdfFileReader_CanRead(t *testing.T) {
	r := PdfFileReader{}
	assert.True(t, r.CanRead("some/file.pdf"))
	assert.True(t, r.CanRead("some/FILE.PDF"))
	assert.False(t, r.CanRead("some/file.txt"))
}

func Test_PdfFileReader_ReadText(t *testing.T) {
	requirePdftotext(t)

	r := PdfFileReader{}
	txt, err := r.ReadText("testdata/test.pdf")
	require.NoError(t, err)

	assert.Contains(t, txt, "hello world")
	assert.Contains(t, txt, "second page")
}

func Test_PdfFileReader_ReadPages(t *testing.T) {
	requirePdftotext(t)

	r := PdfFileReader{}
	pages, err := r.ReadPages("testdata/test.pdf")
	require.NoError(t, err)

	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "hello world", strings.TrimSpace(pages[0].Text))
	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, "second page", strings.TrimSpace(pages[1].Text))
}

func Test_readPages(t *testing.T) {
	texts := map[int]string{1: "intro", 2: " \n ", 3: "warranty terms"}

	pages, err := readPages(3, func(n int) (string, error) {
		return texts[n], nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Page{{Number: 1, Text: "intro"}, {Number: 3, Text: "warranty terms"}}, pages)

	_, err = readPages(3, func(n int) (string, error) {
		if n == 2 {
			return "", errors.New("exit status 1")
		}
		return texts[n], nil
	})
	assert.ErrorContains(t, err, "page 2")
}

func Test_PdfFileReader_ReadPages_Missing(t *testing.T) {
	r := PdfFileReader{}
	_, err := r.ReadPages("testdata/missing.pdf")
	assert.Error(t, err)
}
