package dashscope

// Version is the library version reported in the user-agent header.
const Version = "0.3.0"
