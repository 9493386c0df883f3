package router

// Operation identifies the handler a request is dispatched to.
type Operation int

const (
	OpUnknown Operation = iota
	OpGetRoot
	OpGetAllDBs
	OpGetUUIDs
	OpGetActiveTasks
	OpPostReplicate
	OpGetDatabase
	OpPutDatabase
	OpDeleteDatabase
	OpPostDatabase
	OpGetAllDocs
	OpPostAllDocs
	OpPostBulkDocs
	OpPostRevsDiff
	OpPostCompact
	OpPostEnsureFullCommit
	OpGetChanges
	OpGetDocument
	OpPutDocument
	OpDeleteDocument
	OpGetAttachment
	OpPutAttachment
	OpDeleteAttachment
	OpGetView
	OpPostView
	OpGetDesignInfo
)

var opNames = map[Operation]string{
	OpUnknown:              "Unknown",
	OpGetRoot:              "GET_Root",
	OpGetAllDBs:            "GET_all_dbs",
	OpGetUUIDs:             "GET_uuids",
	OpGetActiveTasks:       "GET_active_tasks",
	OpPostReplicate:        "POST_replicate",
	OpGetDatabase:          "GET_Database",
	OpPutDatabase:          "PUT_Database",
	OpDeleteDatabase:       "DELETE_Database",
	OpPostDatabase:         "POST_Database",
	OpGetAllDocs:           "GET_all_docs",
	OpPostAllDocs:          "POST_all_docs",
	OpPostBulkDocs:         "POST_bulk_docs",
	OpPostRevsDiff:         "POST_revs_diff",
	OpPostCompact:          "POST_compact",
	OpPostEnsureFullCommit: "POST_ensure_full_commit",
	OpGetChanges:           "GET_changes",
	OpGetDocument:          "GET_Document",
	OpPutDocument:          "PUT_Document",
	OpDeleteDocument:       "DELETE_Document",
	OpGetAttachment:        "GET_Attachment",
	OpPutAttachment:        "PUT_Attachment",
	OpDeleteAttachment:     "DELETE_Attachment",
	OpGetView:              "GET_view",
	OpPostView:             "POST_view",
	OpGetDesignInfo:        "GET_DesignInfo",
}

func (o Operation) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "Unknown"
}

type routeKey struct {
	method string
	shape  Shape
	name   string
}

var routeTable = map[routeKey]Operation{
	{"GET", ShapeRoot, ""}:                                OpGetRoot,
	{"GET", ShapeServer, "_all_dbs"}:                      OpGetAllDBs,
	{"GET", ShapeServer, "_uuids"}:                        OpGetUUIDs,
	{"GET", ShapeServer, "_active_tasks"}:                 OpGetActiveTasks,
	{"POST", ShapeServer, "_replicate"}:                   OpPostReplicate,
	{"GET", ShapeDatabase, ""}:                            OpGetDatabase,
	{"PUT", ShapeDatabase, ""}:                            OpPutDatabase,
	{"DELETE", ShapeDatabase, ""}:                         OpDeleteDatabase,
	{"POST", ShapeDatabase, ""}:                           OpPostDatabase,
	{"GET", ShapeDatabaseSpecial, "_all_docs"}:            OpGetAllDocs,
	{"POST", ShapeDatabaseSpecial, "_all_docs"}:           OpPostAllDocs,
	{"POST", ShapeDatabaseSpecial, "_bulk_docs"}:          OpPostBulkDocs,
	{"POST", ShapeDatabaseSpecial, "_revs_diff"}:          OpPostRevsDiff,
	{"POST", ShapeDatabaseSpecial, "_compact"}:            OpPostCompact,
	{"POST", ShapeDatabaseSpecial, "_ensure_full_commit"}: OpPostEnsureFullCommit,
	{"GET", ShapeDatabaseSpecial, "_changes"}:             OpGetChanges,
	{"GET", ShapeDocument, ""}:                            OpGetDocument,
	{"PUT", ShapeDocument, ""}:                            OpPutDocument,
	{"DELETE", ShapeDocument, ""}:                         OpDeleteDocument,
	{"GET", ShapeAttachment, ""}:                          OpGetAttachment,
	{"PUT", ShapeAttachment, ""}:                          OpPutAttachment,
	{"DELETE", ShapeAttachment, ""}:                       OpDeleteAttachment,
	{"GET", ShapeDesign, "_view"}:                         OpGetView,
	{"POST", ShapeDesign, "_view"}:                        OpPostView,
	{"GET", ShapeDesign, "_info"}:                         OpGetDesignInfo,
}

func lookup(r Route) Operation {
	return routeTable[routeKey{method: r.Method, shape: r.Shape, name: r.Name}]
}
