package console

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

func TestStaticHost_PickPrivateKey(t *testing.T) {
	g := NewWithT(t)

	path, err := (&StaticHost{KeyPath: privPath}).PickPrivateKey(context.Background())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(path).To(Equal(privPath))

	_, err = (&StaticHost{}).PickPrivateKey(context.Background())
	g.Expect(err).To(MatchError(mlicense.ErrCancelled))
}

func TestStaticHost_SaveArtifact(t *testing.T) {
	ctx := context.Background()

	t.Run("into directory uses default name", func(t *testing.T) {
		g := NewWithT(t)
		fs := afero.NewMemMapFs()
		g.Expect(fs.MkdirAll("/out", 0o755)).To(Succeed())
		h := &StaticHost{Fs: fs, OutputDir: "/out"}

		path, err := h.SaveArtifact(ctx, "license-M-1.json", []byte("{}"))
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(path).To(Equal("/out/license-M-1.json"))
	})

	t.Run("missing directory is created and reused", func(t *testing.T) {
		g := NewWithT(t)
		fs := afero.NewMemMapFs()
		h := &StaticHost{Fs: fs, OutputDir: "/licenses"}

		first, err := h.SaveArtifact(ctx, "license-M-1.json", []byte("{}"))
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(first).To(Equal("/licenses/license-M-1.json"))

		second, err := h.SaveArtifact(ctx, "license-M-2.json", []byte("{}"))
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(second).To(Equal("/licenses/license-M-2.json"))

		isDir, err := afero.IsDir(fs, "/licenses")
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(isDir).To(BeTrue())
	})

	t.Run("empty directory means the working directory", func(t *testing.T) {
		g := NewWithT(t)
		h := &StaticHost{Fs: afero.NewMemMapFs()}

		path, err := h.SaveArtifact(ctx, "license-M-1.json", []byte("{}"))
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(path).To(Equal("license-M-1.json"))
	})

	t.Run("default name cannot escape the directory", func(t *testing.T) {
		g := NewWithT(t)
		fs := afero.NewMemMapFs()
		g.Expect(fs.MkdirAll("/out", 0o755)).To(Succeed())
		h := &StaticHost{Fs: fs, OutputDir: "/out"}

		path, err := h.SaveArtifact(ctx, "../../etc/passwd", []byte("{}"))
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(path).To(Equal("/out/passwd"))
	})

	t.Run("existing file without overwrite", func(t *testing.T) {
		g := NewWithT(t)
		fs := afero.NewMemMapFs()
		g.Expect(afero.WriteFile(fs, "/out/license.json", []byte("old"), 0o644)).To(Succeed())
		h := &StaticHost{Fs: fs, OutputFile: "/out/license.json"}

		_, err := h.SaveArtifact(ctx, "x.json", []byte("new"))
		g.Expect(err).To(MatchError(ContainSubstring("already exists")))

		data, err := afero.ReadFile(fs, "/out/license.json")
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(string(data)).To(Equal("old"))
	})

	t.Run("existing file with overwrite", func(t *testing.T) {
		g := NewWithT(t)
		fs := afero.NewMemMapFs()
		g.Expect(afero.WriteFile(fs, "/out/license.json", []byte("old"), 0o644)).To(Succeed())
		h := &StaticHost{Fs: fs, OutputFile: "/out/license.json", Overwrite: true}

		_, err := h.SaveArtifact(ctx, "x.json", []byte("new"))
		g.Expect(err).ToNot(HaveOccurred())

		data, err := afero.ReadFile(fs, "/out/license.json")
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(string(data)).To(Equal("new"))
	})
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"license-M-1.json": "license-M-1.json",
		"../x.json":        "x.json",
		"/abs/y.json":      "y.json",
		"":                 "license.json",
		"..":               "license.json",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			g := NewWithT(t)
			g.Expect(safeName(in)).To(Equal(want))
		})
	}
}
