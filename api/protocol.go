package api

// Methods served over the line-delimited transport.
const (
	MethodDomRoot         = "dom/root"
	MethodDomGet          = "dom/get"
	MethodDomChildren     = "dom/children"
	MethodDomAncestors    = "dom/ancestors"
	MethodDomFindByPath   = "dom/findByPath"
	MethodDomFindByQuery  = "dom/findByQuery"
	MethodInstanceInsert  = "instance/insert"
	MethodInstanceRename  = "instance/rename"
	MethodInstanceDelete  = "instance/delete"
	MethodInstanceMove    = "instance/move"
	MethodDomNotification = "dom/notification"
)

// Methods lists every request method a client may send.
var Methods = []string{
	MethodDomRoot,
	MethodDomGet,
	MethodDomChildren,
	MethodDomAncestors,
	MethodDomFindByPath,
	MethodDomFindByQuery,
	MethodInstanceInsert,
	MethodInstanceRename,
	MethodInstanceDelete,
	MethodInstanceMove,
}
