//go:build noxls

package formats

func init() {
	Register(Adapter{
		Format:      XLS,
		Extension:   "xls",
		ContentType: "application/vnd.ms-excel",
		Unavailable: "legacy XLS support is not compiled into this build",
	})
}
