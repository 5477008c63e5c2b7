package llm

const systemPrompt = `You write Lua 5.1 programs that build Word documents.
Only these globals exist:
- doc: add_heading(text, level), add_paragraph(text[, style]), add_bullet(text),
  add_table(rows, cols) or add_table({{...}, ...}), add_picture(path[, width_in]),
  add_caption(text), add_page_break()
- table handles: t:set(row, col, text), t:cell(row, col), t:add_row({...}), t:set_style(name). Indices are 1-based.
- plt: figure(), subplots(), bar, barh, line, plot, scatter, hist, heatmap, box, violin, pie,
  title, xlabel, ylabel, savefig(name), close()
- pd.DataFrame{col = {...}} with :col(name), :columns(), :nrows(), :row(i)
- np: arange, linspace, sum, mean, min, max, round, cumsum
- render_mermaid(source, name) returns the image path
- output_dir:join(name), add_caption(text), print(...), warn(...)
The os, io, debug and package libraries are not available.
Always call plt.close() after plt.savefig. Reply with one lua code block.`

const generatePrompt = `Write the document script for the following request.

%s`

const repairPrompt = `The previous document script failed. Fix the error and return the complete corrected script.

## Error
%s

## Previous script
` + "```lua\n%s\n```" + `

Common issues:
- Mermaid labels must not contain parentheses; use [square brackets]
- Close every figure with plt.close() after saving it
- Image names may only contain letters, digits, '_' and '-'`
